package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

// Storage stores samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	samples []storage.Sample
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		samples: make([]storage.Sample, 0, 4096),
	}
}

// Write stores samples in memory
func (s *Storage) Write(ctx context.Context, samples []storage.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	return nil
}

// Query retrieves samples matching the request, ordered by key then time
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var results []storage.Sample
	for _, smp := range s.samples {
		if req.Matches(smp) {
			results = append(results, smp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Key != results[j].Key {
			return results[i].Key < results[j].Key
		}
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Delete removes samples older than the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]storage.Sample, 0, len(s.samples))
	for _, smp := range s.samples {
		if !smp.Timestamp.Before(before) {
			filtered = append(filtered, smp)
		}
	}

	removed := len(s.samples) - len(filtered)
	s.samples = filtered
	return removed, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalSamples: uint64(len(s.samples)),
	}

	if len(s.samples) == 0 {
		return stats, nil
	}

	// Count unique series and find min/max timestamps in single pass
	series := make(map[string]struct{})
	oldest := s.samples[0].Timestamp
	newest := s.samples[0].Timestamp

	for _, smp := range s.samples {
		series[smp.Key] = struct{}{}

		if smp.Timestamp.Before(oldest) {
			oldest = smp.Timestamp
		}
		if smp.Timestamp.After(newest) {
			newest = smp.Timestamp
		}
	}

	stats.TotalSeries = uint64(len(series))
	stats.OldestSample = oldest
	stats.NewestSample = newest

	// Rough size estimate (each sample ~64 bytes)
	stats.SizeBytes = uint64(len(s.samples)) * 64

	return stats, nil
}
