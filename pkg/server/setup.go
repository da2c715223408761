package server

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/alerts"
	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/cve"
	"github.com/netwatch-labs/netwatch/pkg/dashboard"
	"github.com/netwatch-labs/netwatch/pkg/server/monitor"
	"github.com/netwatch-labs/netwatch/pkg/simulator"
	"github.com/netwatch-labs/netwatch/pkg/storage"
	"github.com/netwatch-labs/netwatch/pkg/storage/badger"
	"github.com/netwatch-labs/netwatch/pkg/storage/memory"
	"github.com/netwatch-labs/netwatch/pkg/weather"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

// InitializeStorage opens the configured sample persistence backend.
func InitializeStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		log.Println("Using in-memory sample storage (history is lost on restart)")
		return memory.New(), nil
	case "badger":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("Initializing BadgerDB storage in %s...", cfg.DataDir)
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Println("BadgerDB storage initialized successfully")
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// InitializeStorageMonitor returns a disk usage monitor for the badger data
// directory, or nil for the memory backend.
func InitializeStorageMonitor(cfg config.StorageConfig) *monitor.StorageMonitor {
	if cfg.Backend != "badger" {
		return nil
	}
	maxBytes := cfg.MaxStorageGB * 1024 * 1024 * 1024
	log.Printf("Storage limit enforcement enabled: %.2f GB max", float64(maxBytes)/(1024*1024*1024))
	return monitor.NewStorageMonitor(cfg.DataDir, maxBytes)
}

// InitializeEngine builds the dashboard engine and everything it owns.
func InitializeEngine(cfg *config.Config, persist storage.Storage, sm *monitor.StorageMonitor) *dashboard.Engine {
	var rng *rand.Rand
	if cfg.Simulator.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Simulator.Seed))
		log.Printf("Simulator seeded with %d", cfg.Simulator.Seed)
	}

	opts := dashboard.Options{
		Store:           window.NewStore(cfg.Window.Horizon, window.WithPurgeIdle(cfg.Window.PurgeIdle)),
		Source:          simulator.New(rng),
		Feed:            alerts.NewFeed(cfg.Alerts.Max),
		Persist:         persist,
		AutoRefresh:     cfg.Refresh.Auto,
		RefreshInterval: cfg.Refresh.Interval,
	}
	// A typed nil would make the engine call CheckLimit on a nil monitor.
	if sm != nil {
		opts.Limit = sm
	}

	if cfg.CVE.Enabled {
		opts.CVE = cve.New(cve.Config{
			BaseURL:    cfg.CVE.BaseURL,
			Keyword:    cfg.CVE.Keyword,
			APIKey:     cfg.CVE.APIKey(),
			MaxResults: cfg.CVE.MaxResults,
			Timeout:    cfg.CVE.Timeout,
			TTL:        cfg.CVE.TTL,
		})
		log.Printf("CVE widget enabled (keyword %q)", cfg.CVE.Keyword)
	}

	if cfg.Weather.Enabled {
		key := cfg.Weather.APIKey()
		if key == "" {
			log.Printf("Weather widget has no API key (set %s)", cfg.Weather.APIKeyEnv)
		}
		opts.Weather = weather.New(weather.Config{
			BaseURL: cfg.Weather.BaseURL,
			APIKey:  key,
			City:    cfg.Weather.City,
			State:   cfg.Weather.State,
			Timeout: cfg.Weather.Timeout,
			TTL:     cfg.Weather.TTL,
		})
	}

	log.Printf("Dashboard engine ready (horizon %v, auto-refresh %v every %v)",
		cfg.Window.Horizon, cfg.Refresh.Auto, config.ClampRefreshInterval(cfg.Refresh.Interval))
	return dashboard.NewEngine(opts)
}

// InitializeRetention creates the health monitor for the retention task.
func InitializeRetention() *monitor.TaskMonitor {
	// Two missed hourly runs mark the task stale.
	return monitor.NewTaskMonitor("retention", 2*config.RetentionInterval)
}

// WidgetRefreshInterval is the shortest TTL among the enabled widgets, so
// no widget serves a value older than its own TTL. It returns 0 when no
// widget is enabled.
func WidgetRefreshInterval(cfg *config.Config) time.Duration {
	var interval time.Duration
	for _, w := range []struct {
		enabled bool
		ttl     time.Duration
	}{
		{cfg.CVE.Enabled, cfg.CVE.TTL},
		{cfg.Weather.Enabled, cfg.Weather.TTL},
	} {
		if !w.enabled {
			continue
		}
		ttl := w.ttl
		if ttl <= 0 {
			ttl = config.DefaultWidgetTTL
		}
		if interval == 0 || ttl < interval {
			interval = ttl
		}
	}
	return interval
}
