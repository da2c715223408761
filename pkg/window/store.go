package window

import (
	"sort"
	"sync"
	"time"
)

// AggregateKey holds the per-tick sum across all reporting entities.
// Entity names never start with "__", so it cannot collide with one.
const AggregateKey = "__all__"

// DefaultHorizon is how far back the dashboard charts reach.
const DefaultHorizon = 30 * time.Minute

// Store keeps a rolling window of samples per key.
type Store struct {
	mu        sync.RWMutex
	horizon   time.Duration
	purgeIdle bool
	series    map[string]*timeSeries
}

// Option configures a Store.
type Option func(*Store)

// WithPurgeIdle controls whether EvictAll drops keys left with no samples.
func WithPurgeIdle(enabled bool) Option {
	return func(s *Store) {
		s.purgeIdle = enabled
	}
}

// NewStore creates an empty store. A non-positive horizon falls back to
// DefaultHorizon.
func NewStore(horizon time.Duration, opts ...Option) *Store {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	s := &Store{
		horizon:   horizon,
		purgeIdle: true,
		series:    make(map[string]*timeSeries),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Horizon returns the retention window.
func (s *Store) Horizon() time.Duration {
	return s.horizon
}

// Record appends one sample to key, creating the series on first use.
// Timestamps for a key are expected to be non-decreasing.
func (s *Store) Record(key string, ts time.Time, a, b float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordLocked(key, ts, a, b)
}

// RecordTick records every entity in rates under its own key, plus the sum
// of the tick under AggregateKey. Nothing is recorded for an empty tick.
func (s *Store) RecordTick(ts time.Time, rates map[string]Rate) {
	if len(rates) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Sorted so per-key insertion order does not depend on map iteration.
	keys := make([]string, 0, len(rates))
	for k := range rates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total Rate
	for _, k := range keys {
		r := rates[k]
		s.recordLocked(k, ts, r.Download, r.Upload)
		total.Download += r.Download
		total.Upload += r.Upload
	}
	s.recordLocked(AggregateKey, ts, total.Download, total.Upload)
}

func (s *Store) recordLocked(key string, ts time.Time, a, b float64) {
	series, ok := s.series[key]
	if !ok {
		series = &timeSeries{}
		s.series[key] = series
	}
	series.append(ts, a, b)
}

// Evict removes samples of key at or before now-horizon and returns how many
// were removed. Unknown keys are a no-op.
func (s *Store) Evict(key string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[key]
	if !ok {
		return 0
	}
	return series.dropBefore(now.Add(-s.horizon))
}

// SweepResult summarizes one EvictAll pass.
type SweepResult struct {
	Removed int
	Purged  []string
}

// EvictAll evicts every key in the store against the same cutoff. With
// idle purging enabled, keys left empty are removed from the store.
func (s *Store) EvictAll(now time.Time) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.horizon)

	var res SweepResult
	for key, series := range s.series {
		res.Removed += series.dropBefore(cutoff)
		if s.purgeIdle && series.len() == 0 {
			delete(s.series, key)
			res.Purged = append(res.Purged, key)
		}
	}
	sort.Strings(res.Purged)
	return res
}

// Read returns a copy of key's samples. Unknown keys yield three empty
// sequences.
func (s *Store) Read(key string) Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[key]
	if !ok {
		return emptySeries()
	}
	return series.snapshot()
}

// Has reports whether key currently has at least one sample.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[key]
	return ok && series.len() > 0
}

// Len returns the number of samples held for key.
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if series, ok := s.series[key]; ok {
		return series.len()
	}
	return 0
}

// Keys returns the tracked keys in sorted order, AggregateKey included.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats describes the store contents.
type Stats struct {
	Keys    int `json:"keys"`
	Samples int `json:"samples"`
}

// Stats returns the number of keys and total samples held.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Keys: len(s.series)}
	for _, series := range s.series {
		st.Samples += series.len()
	}
	return st
}
