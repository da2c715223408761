package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

const formatVersion = "1.0"

// Exporter writes persisted samples out in a portable format.
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Start time.Time
	End   time.Time

	// Keys restricts the export to these window keys (nil = all).
	Keys []string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int       `json:"samples_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes an export file.
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SampleCount int       `json:"sample_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Document is the JSON export layout. The importer reads the same shape.
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Samples  []storage.Sample `json:"samples"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]storage.Sample, error) {
	samples, err := e.storage.Query(ctx, storage.QueryRequest{
		Start: opts.Start,
		End:   opts.End,
		Keys:  opts.Keys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	return samples, nil
}

func timeRange(opts ExportOptions) string {
	return fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339))
}

// ExportToJSON exports samples as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []storage.Sample{}
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			SampleCount: len(samples),
			Format:      "json",
			Version:     formatVersion,
		},
		Samples: samples,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		TimeRange:       timeRange(opts),
		Format:          "json",
		ExportedAt:      doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports samples as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"timestamp", "key", "download_mbps", "upload_mbps"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range samples {
		row := []string{
			s.Timestamp.Format(time.RFC3339Nano),
			s.Key,
			strconv.FormatFloat(s.Download, 'f', -1, 64),
			strconv.FormatFloat(s.Upload, 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		TimeRange:       timeRange(opts),
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}
