package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

func TestMemoryStorage_WriteAndQuery(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	err := store.Write(ctx, []storage.Sample{
		{Key: "router", Timestamp: now, Download: 12, Upload: 3},
		{Key: "desktop", Timestamp: now, Download: 4, Upload: 1},
		{Key: "router", Timestamp: now.Add(-time.Second), Download: 10, Upload: 2},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-1 * time.Hour),
		End:   now.Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	require.Len(t, results, 3)
	require.Equal(t, "desktop", results[0].Key)
	// Same key comes back in time order regardless of write order.
	require.Equal(t, 10.0, results[1].Download)
	require.Equal(t, 12.0, results[2].Download)
}

func TestMemoryStorage_QueryWithFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	var samples []storage.Sample
	for i := 0; i < 10; i++ {
		ts := now.Add(time.Duration(-i) * time.Minute)
		samples = append(samples,
			storage.Sample{Key: "router", Timestamp: ts, Download: float64(i)},
			storage.Sample{Key: "phone", Timestamp: ts, Download: float64(i)},
		)
	}
	require.NoError(t, store.Write(ctx, samples))

	tests := []struct {
		name string
		req  storage.QueryRequest
		want int
	}{
		{
			name: "key filter",
			req:  storage.QueryRequest{Start: now.Add(-time.Hour), End: now, Keys: []string{"router"}},
			want: 10,
		},
		{
			name: "time range",
			req:  storage.QueryRequest{Start: now.Add(-4 * time.Minute), End: now},
			want: 10,
		},
		{
			name: "limit",
			req:  storage.QueryRequest{Start: now.Add(-time.Hour), End: now, Limit: 3},
			want: 3,
		},
		{
			name: "no match",
			req:  storage.QueryRequest{Start: now.Add(-time.Hour), End: now, Keys: []string{"printer"}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Query(ctx, tt.req)
			require.NoError(t, err)
			require.Len(t, results, tt.want)
		})
	}
}

func TestMemoryStorage_Delete(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Write(ctx, []storage.Sample{
		{Key: "router", Timestamp: now.Add(-2 * time.Hour)},
		{Key: "router", Timestamp: now.Add(-30 * time.Minute)},
		{Key: "router", Timestamp: now},
	}))

	removed, err := store.Delete(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.TotalSamples)
	require.Equal(t, uint64(1), stats.TotalSeries)
	require.Equal(t, now.Add(-30*time.Minute), stats.OldestSample)
	require.Equal(t, now, stats.NewestSample)
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Write(ctx, []storage.Sample{{Key: "router", Timestamp: time.Now()}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStorage_EmptyStats(t *testing.T) {
	stats, err := New().Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalSamples)
	require.True(t, stats.OldestSample.IsZero())
}
