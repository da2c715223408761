package storage

import (
	"context"
	"time"
)

// Sample is one persisted throughput reading for a window key.
type Sample struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Download  float64   `json:"download"`
	Upload    float64   `json:"upload"`
}

// Storage defines the interface for sample storage backends.
// Implementations: memory (testing, ephemeral runs), badger (persistent)
type Storage interface {
	// Write stores samples
	Write(ctx context.Context, samples []Sample) error

	// Query retrieves samples within a time range, ordered by key then time
	Query(ctx context.Context, req QueryRequest) ([]Sample, error)

	// Delete removes samples older than before and returns how many were removed
	Delete(ctx context.Context, before time.Time) (int, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies what samples to retrieve
type QueryRequest struct {
	// Time range, inclusive on both ends
	Start time.Time
	End   time.Time

	// Filter by window key (optional)
	Keys []string

	// Limit number of results (0 = no limit)
	Limit int
}

// Stats provides storage health and usage info
type Stats struct {
	TotalSamples uint64    `json:"total_samples"`
	TotalSeries  uint64    `json:"total_series"`
	SizeBytes    uint64    `json:"size_bytes"`
	OldestSample time.Time `json:"oldest_sample"`
	NewestSample time.Time `json:"newest_sample"`
}

// Matches reports whether s falls inside the request's filters.
func (req QueryRequest) Matches(s Sample) bool {
	if s.Timestamp.Before(req.Start) || s.Timestamp.After(req.End) {
		return false
	}
	if len(req.Keys) == 0 {
		return true
	}
	for _, k := range req.Keys {
		if s.Key == k {
			return true
		}
	}
	return false
}
