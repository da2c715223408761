/*
Package storage defines the pluggable persistence layer for window samples.

The rolling window itself lives in memory (pkg/window). Storage keeps a
durable log of every sample the window records so a restarted process can
rebuild its last horizon instead of starting with empty charts.

# Backends

  - memory: slice + RWMutex, for tests and runs without a data directory
  - badger: BadgerDB (LSM tree + Snappy compression), survives restarts

Both implement Storage:

	type Storage interface {
	    Write(ctx context.Context, samples []Sample) error
	    Query(ctx context.Context, req QueryRequest) ([]Sample, error)
	    Delete(ctx context.Context, before time.Time) (int, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Usage

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, []storage.Sample{
	    {Key: "Home Desktop PC", Timestamp: now, Download: 12.5, Upload: 1.2},
	})

	recent, err := store.Query(ctx, storage.QueryRequest{
	    Start: now.Add(-30 * time.Minute),
	    End:   now,
	})

# Retention

Persisted samples outlive the window horizon. A background task calls
Delete with a cutoff derived from the persistence retention setting:

	removed, err := store.Delete(ctx, time.Now().Add(-24*time.Hour))
*/
package storage
