package window

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func requireParallel(t *testing.T, s Series) {
	t.Helper()
	require.Equal(t, len(s.Timestamps), len(s.Download))
	require.Equal(t, len(s.Timestamps), len(s.Upload))
}

func TestStore_ReadUnknownKey(t *testing.T) {
	store := NewStore(DefaultHorizon)

	s := store.Read("never-seen")
	require.NotNil(t, s.Timestamps)
	require.NotNil(t, s.Download)
	require.NotNil(t, s.Upload)
	require.True(t, s.Empty())
	require.Equal(t, 0, store.Len("never-seen"))
	require.False(t, store.Has("never-seen"))
}

func TestStore_RecordAppendsAligned(t *testing.T) {
	store := NewStore(DefaultHorizon)

	store.Record("router", t0, 1.5, 0.5)
	store.Record("router", t0.Add(time.Second), 2.5, 1.5)

	s := store.Read("router")
	requireParallel(t, s)
	require.Equal(t, []time.Time{t0, t0.Add(time.Second)}, s.Timestamps)
	require.Equal(t, []float64{1.5, 2.5}, s.Download)
	require.Equal(t, []float64{0.5, 1.5}, s.Upload)
}

func TestStore_EvictFortyFiveMinutes(t *testing.T) {
	store := NewStore(30 * time.Minute)

	for i := 0; i < 45; i++ {
		store.Record("desktop", t0.Add(time.Duration(i)*time.Minute), float64(i), float64(i*2))
	}

	now := t0.Add(44 * time.Minute)
	removed := store.Evict("desktop", now)
	require.Equal(t, 15, removed)

	s := store.Read("desktop")
	requireParallel(t, s)
	require.Equal(t, 30, s.Len())
	require.Equal(t, t0.Add(15*time.Minute), s.Timestamps[0])
	require.Equal(t, t0.Add(44*time.Minute), s.Timestamps[29])
	require.Equal(t, 15.0, s.Download[0])
	require.Equal(t, 30.0, s.Upload[0])
}

func TestStore_EvictDropsBoundarySample(t *testing.T) {
	store := NewStore(10 * time.Minute)

	store.Record("phone", t0, 1, 1)
	store.Record("phone", t0.Add(time.Minute), 2, 2)

	require.Equal(t, 0, store.Evict("phone", t0.Add(10*time.Minute-time.Nanosecond)))
	require.Equal(t, 2, store.Len("phone"))

	// t0 is exactly now-horizon.
	require.Equal(t, 1, store.Evict("phone", t0.Add(10*time.Minute)))
	require.Equal(t, []float64{2}, store.Read("phone").Download)
}

func TestStore_EvictAllFortyFiveTicks(t *testing.T) {
	store := NewStore(30 * time.Minute)

	var now time.Time
	for i := 0; i < 45; i++ {
		now = t0.Add(time.Duration(i) * time.Minute)
		store.RecordTick(now, map[string]Rate{"A": {Download: 1, Upload: 1}})
		store.EvictAll(now)
	}

	for _, key := range []string{"A", AggregateKey} {
		s := store.Read(key)
		requireParallel(t, s)
		require.Equal(t, 30, s.Len(), key)
		require.Equal(t, t0.Add(15*time.Minute), s.Timestamps[0], key)
		require.Equal(t, t0.Add(44*time.Minute), s.Timestamps[29], key)
	}
}

func TestStore_EvictIdempotent(t *testing.T) {
	store := NewStore(5 * time.Minute)
	for i := 0; i < 20; i++ {
		store.Record("printer", t0.Add(time.Duration(i)*time.Minute), float64(i), 0)
	}

	now := t0.Add(19 * time.Minute)
	first := store.Evict("printer", now)
	after := store.Read("printer")

	second := store.Evict("printer", now)
	require.Equal(t, 15, first)
	require.Equal(t, 0, second)
	require.Equal(t, after, store.Read("printer"))
}

func TestStore_EvictUnknownKey(t *testing.T) {
	store := NewStore(DefaultHorizon)
	require.Equal(t, 0, store.Evict("ghost", t0))
	require.Empty(t, store.Keys())
}

func TestStore_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	horizon := 3 * time.Minute
	store := NewStore(horizon, WithPurgeIdle(false))

	now := t0
	for step := 0; step < 500; step++ {
		now = now.Add(time.Duration(rng.Intn(20)) * time.Second)
		if rng.Intn(3) == 0 {
			store.Evict("k", now)

			s := store.Read("k")
			requireParallel(t, s)
			for _, ts := range s.Timestamps {
				if !ts.After(now.Add(-horizon)) {
					t.Fatalf("sample %v survived eviction at %v", ts, now)
				}
			}
			continue
		}
		store.Record("k", now, rng.Float64(), rng.Float64())
	}

	s := store.Read("k")
	requireParallel(t, s)
	for i := 1; i < len(s.Timestamps); i++ {
		if s.Timestamps[i].Before(s.Timestamps[i-1]) {
			t.Fatalf("order broken at %d: %v before %v", i, s.Timestamps[i], s.Timestamps[i-1])
		}
	}
}

func TestStore_RecordTickAggregate(t *testing.T) {
	store := NewStore(30 * time.Minute)

	store.RecordTick(t0, map[string]Rate{
		"A": {Download: 5, Upload: 10},
		"B": {Download: 3, Upload: 7},
	})

	agg := store.Read(AggregateKey)
	require.Equal(t, []float64{8}, agg.Download)
	require.Equal(t, []float64{17}, agg.Upload)

	t1 := t0.Add(time.Second)
	store.RecordTick(t1, map[string]Rate{
		"A": {Download: 5, Upload: 10},
		"C": {Download: 2, Upload: 2},
	})

	agg = store.Read(AggregateKey)
	require.Equal(t, []float64{8, 7}, agg.Download)
	require.Equal(t, []float64{17, 12}, agg.Upload)
	require.Equal(t, []time.Time{t0, t1}, agg.Timestamps)

	// B keeps its tick-1 sample until it ages out.
	store.EvictAll(t1)
	b := store.Read("B")
	require.Equal(t, []time.Time{t0}, b.Timestamps)
	require.Equal(t, 2, store.Len("A"))
	require.Equal(t, 1, store.Len("C"))

	store.EvictAll(t0.Add(30 * time.Minute))
	require.False(t, store.Has("B"))
	require.True(t, store.Has("C"))
}

func TestStore_RecordTickEmpty(t *testing.T) {
	store := NewStore(DefaultHorizon)
	store.RecordTick(t0, nil)
	require.Empty(t, store.Keys())
}

func TestStore_EvictAllPurgesIdleKeys(t *testing.T) {
	tests := []struct {
		name       string
		purge      bool
		wantKeys   []string
		wantPurged []string
	}{
		{
			name:       "purge enabled",
			purge:      true,
			wantKeys:   []string{"fresh"},
			wantPurged: []string{"stale"},
		},
		{
			name:     "purge disabled",
			purge:    false,
			wantKeys: []string{"fresh", "stale"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(time.Minute, WithPurgeIdle(tt.purge))
			store.Record("stale", t0, 1, 1)
			store.Record("fresh", t0.Add(2*time.Minute), 1, 1)

			res := store.EvictAll(t0.Add(2 * time.Minute))
			require.Equal(t, 1, res.Removed)
			require.Equal(t, tt.wantPurged, res.Purged)
			require.Equal(t, tt.wantKeys, store.Keys())

			s := store.Read("stale")
			require.True(t, s.Empty())
			requireParallel(t, s)
		})
	}
}

func TestStore_ReadReturnsCopy(t *testing.T) {
	store := NewStore(DefaultHorizon)
	store.Record("router", t0, 1, 2)

	s := store.Read("router")
	s.Download[0] = 99

	require.Equal(t, []float64{1}, store.Read("router").Download)
}

func TestStore_Stats(t *testing.T) {
	store := NewStore(DefaultHorizon)
	store.RecordTick(t0, map[string]Rate{"a": {1, 1}, "b": {2, 2}})
	store.RecordTick(t0.Add(time.Second), map[string]Rate{"a": {1, 1}})

	st := store.Stats()
	require.Equal(t, 3, st.Keys)
	require.Equal(t, 5, st.Samples)
}

func TestNewStore_DefaultHorizon(t *testing.T) {
	require.Equal(t, DefaultHorizon, NewStore(0).Horizon())
	require.Equal(t, time.Minute, NewStore(time.Minute).Horizon())
}
