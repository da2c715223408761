package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

const keyLen = 16

// numCompactors is the lowest value badger accepts at Open.
const numCompactors = 2

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly default)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults to 64 MB memtables x5. A dashboard writes a handful
	// of samples per second, so 16 MB is plenty.
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(numCompactors).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write stores samples in BadgerDB.
// Runs in its own goroutine so a cancelled context returns immediately.
func (s *Storage) Write(ctx context.Context, samples []storage.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, smp := range samples {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(smp)
				if err != nil {
					return fmt.Errorf("failed to encode sample: %w", err)
				}

				if err := txn.Set(makeKey(smp.Key, smp.Timestamp), value); err != nil {
					return fmt.Errorf("failed to write sample: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves samples matching the request, ordered by key then time.
// With a key filter only the matching series prefixes are scanned.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []storage.Sample
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			if len(req.Keys) == 0 {
				return scan(ctx, txn, nil, time.Time{}, req, &res.results)
			}
			for _, key := range req.Keys {
				prefix := seriesPrefix(key)
				if err := scan(ctx, txn, prefix, req.Start, req, &res.results); err != nil {
					return err
				}
			}
			return nil
		})

		sort.SliceStable(res.results, func(i, j int) bool {
			a, b := res.results[i], res.results[j]
			if a.Key != b.Key {
				return a.Key < b.Key
			}
			return a.Timestamp.Before(b.Timestamp)
		})
		if req.Limit > 0 && len(res.results) > req.Limit {
			res.results = res.results[:req.Limit]
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// scan iterates keys under prefix (all keys when prefix is nil), seeking to
// from when set, and appends matching samples to out.
func scan(ctx context.Context, txn *badger.Txn, prefix []byte, from time.Time, req storage.QueryRequest, out *[]storage.Sample) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if prefix != nil && !from.IsZero() {
		seek = append(append([]byte{}, prefix...), tsBytes(from)...)
	}

	startTime := time.Now()
	var iterCount int

	for it.Seek(seek); it.Valid(); it.Next() {
		iterCount++
		if iterCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		item := it.Item()
		if prefix != nil {
			if _, ts := parseKey(item.Key()); ts.After(req.End) {
				break
			}
		}

		err := item.Value(func(val []byte) error {
			var smp storage.Sample
			if err := json.Unmarshal(val, &smp); err != nil {
				return fmt.Errorf("failed to decode sample: %w", err)
			}
			if req.Matches(smp) {
				*out = append(*out, smp)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if elapsed := time.Since(startTime); elapsed > 5*time.Second {
		log.Printf("Slow sample scan: %v (%d iterations)", elapsed, iterCount)
	}
	return nil
}

// Delete removes samples older than before.
func (s *Storage) Delete(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type deleteResult struct {
		removed int
		err     error
	}
	done := make(chan deleteResult, 1)

	go func() {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				if _, ts := parseKey(it.Item().Key()); ts.Before(before) {
					keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			done <- deleteResult{err: err}
			return
		}

		// WriteBatch splits large deletes across transactions.
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				done <- deleteResult{err: fmt.Errorf("failed to delete sample: %w", err)}
				return
			}
		}
		if err := wb.Flush(); err != nil {
			done <- deleteResult{err: fmt.Errorf("failed to flush deletes: %w", err)}
			return
		}
		done <- deleteResult{removed: len(keysToDelete)}
	}()

	select {
	case res := <-done:
		return res.removed, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: rewrite a file if at least this fraction can be discarded.
// badger.ErrNoRewrite means there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{}

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			series := make(map[uint64]struct{})
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				stats.TotalSamples++
				hash, ts := parseKey(it.Item().Key())
				series[hash] = struct{}{}

				if stats.OldestSample.IsZero() || ts.Before(stats.OldestSample) {
					stats.OldestSample = ts
				}
				if stats.NewestSample.IsZero() || ts.After(stats.NewestSample) {
					stats.NewestSample = ts
				}
			}

			stats.TotalSeries = uint64(len(series))
			return nil
		})

		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key: series hash + timestamp
// Format: [xxhash(key) (8 bytes)][unix nanos (8 bytes)]
func makeKey(key string, ts time.Time) []byte {
	out := make([]byte, keyLen)
	binary.BigEndian.PutUint64(out[0:8], xxhash.Sum64String(key))
	binary.BigEndian.PutUint64(out[8:16], uint64(ts.UnixNano()))
	return out
}

func seriesPrefix(key string) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, xxhash.Sum64String(key))
	return out
}

func tsBytes(ts time.Time) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(ts.UnixNano()))
	return out
}

// parseKey extracts the series hash and timestamp from a storage key.
// The key string itself lives in the value.
func parseKey(key []byte) (uint64, time.Time) {
	if len(key) < keyLen {
		return 0, time.Time{}
	}
	hash := binary.BigEndian.Uint64(key[0:8])
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16])))
	return hash, ts
}
