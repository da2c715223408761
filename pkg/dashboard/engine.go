// Package dashboard runs the refresh tick that drives every panel: it polls
// the simulator, folds the readings into the rolling window, raises alerts,
// persists samples and publishes a snapshot for the HTTP and WebSocket
// layers.
package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/alerts"
	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/cve"
	"github.com/netwatch-labs/netwatch/pkg/simulator"
	"github.com/netwatch-labs/netwatch/pkg/storage"
	"github.com/netwatch-labs/netwatch/pkg/telemetry"
	"github.com/netwatch-labs/netwatch/pkg/weather"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

// Trigger records what started a tick.
type Trigger string

const (
	TriggerAuto    Trigger = "auto"
	TriggerManual  Trigger = "manual"
	TriggerStartup Trigger = "startup"
)

// Options wires an Engine. Store and Source are required; everything else
// is optional.
type Options struct {
	Store  *window.Store
	Source *simulator.Generator
	Feed   *alerts.Feed

	// Persist receives every recorded sample. Write failures are logged
	// and never abort a tick.
	Persist storage.Storage

	// Limit, when set, is consulted before each write; samples are not
	// persisted while it reports an error.
	Limit LimitChecker

	CVE     *cve.Client
	Weather *weather.Client

	AutoRefresh     bool
	RefreshInterval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// LimitChecker reports whether persistence has room for more samples.
type LimitChecker interface {
	CheckLimit() error
}

// Engine owns the rolling window and serializes ticks against it.
type Engine struct {
	store   *window.Store
	source  *simulator.Generator
	feed    *alerts.Feed
	persist storage.Storage
	limit   LimitChecker
	cve     *cve.Client
	weather *weather.Client
	now     func() time.Time

	// tickMu makes manual refreshes and the auto loop take turns, so the
	// store only ever sees one writer.
	tickMu sync.Mutex

	mu          sync.RWMutex
	connections []simulator.Connection
	ticks       uint64
	lastTick    time.Time
	auto        bool
	interval    time.Duration
	latest      *Snapshot

	// settings wakes Run when auto-refresh settings change.
	settings chan struct{}
	updates  chan Snapshot

	widgets widgetState
}

// NewEngine creates an engine. It panics if Store or Source is nil.
func NewEngine(opts Options) *Engine {
	if opts.Store == nil || opts.Source == nil {
		panic("dashboard: Store and Source are required")
	}
	if opts.Feed == nil {
		opts.Feed = alerts.NewFeed(alerts.DefaultMaxAlerts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = config.DefaultRefreshInterval
	}

	return &Engine{
		store:    opts.Store,
		source:   opts.Source,
		feed:     opts.Feed,
		persist:  opts.Persist,
		limit:    opts.Limit,
		cve:      opts.CVE,
		weather:  opts.Weather,
		now:      opts.Now,
		auto:     opts.AutoRefresh,
		interval: config.ClampRefreshInterval(opts.RefreshInterval),
		settings: make(chan struct{}, 1),
		updates:  make(chan Snapshot, 1),
	}
}

// Store returns the rolling window the engine writes to.
func (e *Engine) Store() *window.Store {
	return e.store
}

// Updates delivers the snapshot produced by each tick. Only the most recent
// snapshot is buffered; a slow reader skips intermediate ones.
func (e *Engine) Updates() <-chan Snapshot {
	return e.updates
}

// Refresh runs one tick now. It backs the manual refresh button.
func (e *Engine) Refresh() Snapshot {
	return e.Tick(e.now(), TriggerManual)
}

// Tick performs exactly one refresh at now and returns the all-devices
// snapshot it published.
func (e *Engine) Tick(now time.Time, trigger Trigger) Snapshot {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()

	rates := e.source.Poll(now)
	e.store.RecordTick(now, rates)
	sweep := e.store.EvictAll(now)

	newAlerts := e.source.Alerts(now)
	e.feed.Push(newAlerts...)

	conns := e.source.Connections()

	e.persistTick(now, rates)

	e.mu.Lock()
	e.connections = conns
	e.ticks++
	e.lastTick = now
	e.mu.Unlock()

	e.observe(trigger, rates, sweep, newAlerts)

	snap := e.build(AllDevices)
	e.mu.Lock()
	e.latest = &snap
	e.mu.Unlock()
	e.publish(snap)

	telemetry.TickDuration.Observe(time.Since(start).Seconds())
	return snap
}

// persistTick writes this tick's samples, aggregate included, to the
// optional backend.
func (e *Engine) persistTick(now time.Time, rates map[string]window.Rate) {
	if e.persist == nil || len(rates) == 0 {
		return
	}
	if e.limit != nil {
		if err := e.limit.CheckLimit(); err != nil {
			telemetry.PersistErrors.Inc()
			log.Printf("Skipping sample persistence: %v", err)
			return
		}
	}

	samples := make([]storage.Sample, 0, len(rates)+1)
	var sum window.Rate
	for key, r := range rates {
		samples = append(samples, storage.Sample{Key: key, Timestamp: now, Download: r.Download, Upload: r.Upload})
		sum.Download += r.Download
		sum.Upload += r.Upload
	}
	samples = append(samples, storage.Sample{Key: window.AggregateKey, Timestamp: now, Download: sum.Download, Upload: sum.Upload})

	ctx, cancel := context.WithTimeout(context.Background(), config.PersistTimeout)
	defer cancel()

	if err := e.persist.Write(ctx, samples); err != nil {
		telemetry.PersistErrors.Inc()
		log.Printf("Failed to persist %d samples: %v", len(samples), err)
	}
}

func (e *Engine) observe(trigger Trigger, rates map[string]window.Rate, sweep window.SweepResult, newAlerts []alerts.Alert) {
	telemetry.TicksTotal.WithLabelValues(string(trigger)).Inc()

	for name, r := range rates {
		telemetry.ThroughputMbps.WithLabelValues(name, "download").Set(r.Download)
		telemetry.ThroughputMbps.WithLabelValues(name, "upload").Set(r.Upload)
	}

	online := 0
	for _, d := range e.source.Devices() {
		if d.Status == simulator.StatusOnline {
			online++
		}
	}
	telemetry.DevicesOnline.Set(float64(online))

	stats := e.store.Stats()
	telemetry.WindowKeys.Set(float64(stats.Keys))
	telemetry.WindowSamples.Set(float64(stats.Samples))
	telemetry.SamplesEvicted.Add(float64(sweep.Removed))
	telemetry.KeysPurged.Add(float64(len(sweep.Purged)))

	for _, a := range newAlerts {
		telemetry.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
}

// publish hands snap to Updates, replacing any snapshot nobody read yet.
func (e *Engine) publish(snap Snapshot) {
	for {
		select {
		case e.updates <- snap:
			return
		default:
		}
		select {
		case <-e.updates:
		default:
		}
	}
}

// Latest returns the snapshot published by the last tick, or false before
// the first tick.
func (e *Engine) Latest() (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return Snapshot{}, false
	}
	return *e.latest, true
}

// AutoRefreshState is the current auto-refresh setting.
type AutoRefreshState struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"-"`
	Seconds  int           `json:"interval_seconds"`
}

// AutoRefresh reports whether the loop is ticking and how often.
func (e *Engine) AutoRefresh() AutoRefreshState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return AutoRefreshState{
		Enabled:  e.auto,
		Interval: e.interval,
		Seconds:  int(e.interval / time.Second),
	}
}

// SetAutoRefresh changes the loop settings. The interval is clamped to the
// supported range. A running loop picks the change up immediately.
func (e *Engine) SetAutoRefresh(enabled bool, interval time.Duration) AutoRefreshState {
	e.mu.Lock()
	e.auto = enabled
	e.interval = config.ClampRefreshInterval(interval)
	e.mu.Unlock()

	select {
	case e.settings <- struct{}{}:
	default:
	}
	return e.AutoRefresh()
}

// Run is the auto-refresh loop. While enabled it waits the configured
// interval and then ticks. Cancelling ctx stops the loop between ticks; a
// tick that has started always completes.
func (e *Engine) Run(ctx context.Context) {
	log.Println("Auto-refresh loop started")
	defer log.Println("Auto-refresh loop stopped")

	for {
		state := e.AutoRefresh()

		if !state.Enabled {
			select {
			case <-ctx.Done():
				return
			case <-e.settings:
				continue
			}
		}

		timer := time.NewTimer(state.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.settings:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		e.Tick(e.now(), TriggerAuto)
	}
}
