package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

// MaxImportBatchSize is the maximum number of samples written at once.
const MaxImportBatchSize = 5000

// Importer loads samples from an export file back into storage.
type Importer struct {
	storage storage.Storage
	now     func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SamplesImported int       `json:"samples_imported"`
	BatchesWritten  int       `json:"batches_written"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports samples from a JSON export. Invalid samples are
// skipped and reported in Errors.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	now := im.now()
	if len(doc.Samples) == 0 {
		return &ImportResult{TimeRange: "empty", ImportedAt: now}, nil
	}

	var validationErrors []string
	valid := make([]storage.Sample, 0, len(doc.Samples))
	for i, s := range doc.Samples {
		if err := validateSample(s, now); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		valid = append(valid, s)
	}

	batches := 0
	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := im.storage.Write(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", batches, err)
		}
		batches++
	}

	result := &ImportResult{
		SamplesImported: len(valid),
		BatchesWritten:  batches,
		TimeRange:       "empty",
		ImportedAt:      now,
		Errors:          validationErrors,
	}

	if len(valid) > 0 {
		minTime, maxTime := valid[0].Timestamp, valid[0].Timestamp
		for _, s := range valid {
			if s.Timestamp.Before(minTime) {
				minTime = s.Timestamp
			}
			if s.Timestamp.After(maxTime) {
				maxTime = s.Timestamp
			}
		}
		result.TimeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}
	return result, nil
}

func validateSample(s storage.Sample, now time.Time) error {
	if strings.TrimSpace(s.Key) == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if s.Timestamp.After(now.Add(24 * time.Hour)) {
		return fmt.Errorf("timestamp too far in future: %s", s.Timestamp)
	}
	for _, v := range []float64{s.Download, s.Upload} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid rate %v", v)
		}
	}
	return nil
}
