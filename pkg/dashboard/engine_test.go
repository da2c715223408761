package dashboard

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netwatch-labs/netwatch/pkg/cve"
	"github.com/netwatch-labs/netwatch/pkg/simulator"
	"github.com/netwatch-labs/netwatch/pkg/storage"
	"github.com/netwatch-labs/netwatch/pkg/storage/memory"
	"github.com/netwatch-labs/netwatch/pkg/weather"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Store == nil {
		opts.Store = window.NewStore(30 * time.Minute)
	}
	if opts.Source == nil {
		opts.Source = simulator.New(rand.New(rand.NewSource(42)))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	return NewEngine(opts)
}

func TestTick_RecordsEveryDeviceAndAggregate(t *testing.T) {
	e := newTestEngine(t, Options{})

	snap := e.Tick(t0, TriggerManual)
	require.Equal(t, uint64(1), snap.Tick)
	require.Equal(t, AllDevices, snap.Device)

	store := e.Store()
	names := e.source.DeviceNames()
	require.Len(t, store.Keys(), len(names)+1)

	var sum window.Rate
	for _, name := range names {
		s := store.Read(name)
		require.Equal(t, 1, s.Len(), name)
		sum.Download += s.Download[0]
		sum.Upload += s.Upload[0]
	}

	agg := store.Read(window.AggregateKey)
	require.Equal(t, 1, agg.Len())
	require.InDelta(t, sum.Download, agg.Download[0], 1e-9)
	require.InDelta(t, sum.Upload, agg.Upload[0], 1e-9)

	require.False(t, snap.History.Collecting)
	require.Equal(t, window.AggregateKey, snap.History.Key)
	require.GreaterOrEqual(t, len(snap.Connections), 10)
	require.LessOrEqual(t, len(snap.Connections), 20)
}

func TestTick_WindowStaysWithinHorizon(t *testing.T) {
	e := newTestEngine(t, Options{})

	var now time.Time
	for i := 0; i < 45; i++ {
		now = t0.Add(time.Duration(i) * time.Minute)
		e.Tick(now, TriggerAuto)
	}

	cutoff := now.Add(-30 * time.Minute)
	for _, key := range e.Store().Keys() {
		s := e.Store().Read(key)
		require.Equal(t, 30, s.Len(), key)
		require.Equal(t, t0.Add(15*time.Minute), s.Timestamps[0], key)
		require.Equal(t, now, s.Timestamps[s.Len()-1], key)
		for _, ts := range s.Timestamps {
			require.True(t, ts.After(cutoff))
		}
		require.Len(t, s.Download, s.Len())
		require.Len(t, s.Upload, s.Len())
	}
}

func TestTick_PersistsSamples(t *testing.T) {
	st := memory.New()
	e := newTestEngine(t, Options{Persist: st})

	e.Tick(t0, TriggerManual)
	e.Tick(t0.Add(time.Second), TriggerManual)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(12), stats.TotalSamples)
	require.Equal(t, uint64(6), stats.TotalSeries)
}

type failingStorage struct {
	*memory.Storage
}

func (failingStorage) Write(context.Context, []storage.Sample) error {
	return errors.New("disk full")
}

func TestTick_PersistFailureDoesNotAbortTick(t *testing.T) {
	e := newTestEngine(t, Options{Persist: failingStorage{memory.New()}})

	snap := e.Tick(t0, TriggerManual)
	require.Equal(t, uint64(1), snap.Tick)
	require.True(t, e.Store().Has(window.AggregateKey))
}

type fullDisk struct{}

func (fullDisk) CheckLimit() error { return errors.New("storage limit reached") }

func TestTick_SkipsPersistenceOverLimit(t *testing.T) {
	st := memory.New()
	e := newTestEngine(t, Options{Persist: st, Limit: fullDisk{}})

	e.Tick(t0, TriggerManual)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalSamples)
	require.Equal(t, 1, e.Store().Len(window.AggregateKey))
}

func TestUpdates_KeepsLatestSnapshot(t *testing.T) {
	e := newTestEngine(t, Options{})

	e.Tick(t0, TriggerManual)
	e.Tick(t0.Add(time.Second), TriggerManual)

	select {
	case snap := <-e.Updates():
		require.Equal(t, uint64(2), snap.Tick)
	default:
		t.Fatal("expected a published snapshot")
	}

	select {
	case <-e.Updates():
		t.Fatal("only the latest snapshot should be buffered")
	default:
	}

	latest, ok := e.Latest()
	require.True(t, ok)
	require.Equal(t, uint64(2), latest.Tick)
}

func TestSnapshot_DeviceSelection(t *testing.T) {
	e := newTestEngine(t, Options{})

	before, err := e.Snapshot("")
	require.NoError(t, err)
	require.True(t, before.History.Collecting)
	require.Empty(t, before.History.Timestamps)
	require.NotNil(t, before.History.Timestamps)

	e.Tick(t0, TriggerManual)

	all, err := e.Snapshot(AllDevices)
	require.NoError(t, err)
	require.Len(t, all.Devices, 5)
	require.Equal(t, 5, all.Summary.TotalDevices)

	one, err := e.Snapshot("Home Desktop PC")
	require.NoError(t, err)
	require.Len(t, one.Devices, 1)
	require.Equal(t, "Home Desktop PC", one.History.Key)
	require.Nil(t, one.Connections)
	for _, a := range one.Alerts {
		require.Equal(t, "Home Desktop PC", a.Device)
	}

	_, err = e.Snapshot("Toaster")
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestKnows(t *testing.T) {
	e := newTestEngine(t, Options{})

	require.NoError(t, e.Knows(""))
	require.NoError(t, e.Knows(AllDevices))
	require.NoError(t, e.Knows("Guest Android"))
	require.ErrorIs(t, e.Knows("Toaster"), ErrUnknownDevice)
	require.ErrorIs(t, e.Knows(window.AggregateKey), ErrUnknownDevice)
}

func TestSummary_SumsSelectedRows(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.Tick(t0, TriggerManual)

	rows := e.Devices("")
	s := e.Summary("")

	var online int
	var down, mbps float64
	for _, r := range rows {
		if r.Status == simulator.StatusOnline {
			online++
		}
		down += r.DownloadMB
		mbps += r.CurrentDownloadMbps
	}
	require.Equal(t, online, s.OnlineDevices)
	require.InDelta(t, down, s.TotalDownloadMB, 1e-9)
	require.InDelta(t, mbps, s.CurrentDownloadMbps, 1e-9)
}

func TestHistory_FallsBackToAggregate(t *testing.T) {
	store := window.NewStore(30 * time.Minute)
	store.Record(window.AggregateKey, t0, 1, 2)
	e := newTestEngine(t, Options{Store: store})

	h := e.History("Home Printer")
	require.Equal(t, window.AggregateKey, h.Key)
	require.Equal(t, []float64{1}, h.Download)
	require.False(t, h.Collecting)
}

func TestSetAutoRefresh_Clamps(t *testing.T) {
	e := newTestEngine(t, Options{})

	state := e.AutoRefresh()
	require.False(t, state.Enabled)
	require.Equal(t, time.Second, state.Interval)

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{500 * time.Millisecond, time.Second},
		{5 * time.Second, 5 * time.Second},
		{30 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		state := e.SetAutoRefresh(true, tt.in)
		require.True(t, state.Enabled)
		require.Equal(t, tt.want, state.Interval, "input %v", tt.in)
		require.Equal(t, int(tt.want/time.Second), state.Seconds)
	}
}

func TestRun_TicksWhenEnabledAndStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, Options{Now: time.Now})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Disabled: nothing is published.
	select {
	case <-e.Updates():
		t.Fatal("loop ticked while disabled")
	case <-time.After(100 * time.Millisecond):
	}

	e.SetAutoRefresh(true, time.Second)

	select {
	case snap := <-e.Updates():
		require.Equal(t, uint64(1), snap.Tick)
	case <-time.After(3 * time.Second):
		t.Fatal("auto-refresh never ticked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRestore_ReplaysRecentSamples(t *testing.T) {
	st := memory.New()
	now := t0.Add(time.Hour)

	var samples []storage.Sample
	for i := 0; i < 60; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		samples = append(samples,
			storage.Sample{Key: "Home Desktop PC", Timestamp: ts, Download: float64(i), Upload: 1},
			storage.Sample{Key: window.AggregateKey, Timestamp: ts, Download: float64(i), Upload: 1},
		)
	}
	require.NoError(t, st.Write(context.Background(), samples))

	e := newTestEngine(t, Options{Now: func() time.Time { return now }})
	n, err := e.Restore(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, 58, n) // minutes 31..59 for both keys

	s := e.Store().Read("Home Desktop PC")
	require.Equal(t, 29, s.Len())
	require.Equal(t, t0.Add(31*time.Minute), s.Timestamps[0])
	require.Equal(t, 59.0, s.Download[s.Len()-1])

	n, err = e.Restore(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWidgets_Disabled(t *testing.T) {
	e := newTestEngine(t, Options{})

	_, err := e.CVEs(context.Background())
	require.ErrorIs(t, err, ErrWidgetDisabled)
	_, err = e.Weather(context.Background())
	require.ErrorIs(t, err, ErrWidgetDisabled)
	require.NoError(t, e.RefreshWidgets(context.Background()))
}

func TestRefreshWidgets_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(t, Options{
		CVE:     cve.New(cve.Config{BaseURL: srv.URL}),
		Weather: weather.New(weather.Config{BaseURL: srv.URL}),
	})

	err := e.RefreshWidgets(context.Background())
	require.Error(t, err)

	status := e.Widgets()
	require.Zero(t, status.CVECount)
	require.Contains(t, status.CVEError, cve.ErrNoData.Error())
	require.Contains(t, status.WeatherError, weather.ErrNoAPIKey.Error())
	require.False(t, status.HasWeather)
}
