package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/dashboard"
	"github.com/netwatch-labs/netwatch/pkg/server/monitor"
	"github.com/netwatch-labs/netwatch/pkg/storage"
	"github.com/netwatch-labs/netwatch/pkg/storage/badger"
	"github.com/netwatch-labs/netwatch/pkg/stream"
)

const (
	retentionMaxRetries = 3
	maxErrorBackoff     = 5 * time.Minute
)

// retryBaseDelay is the first retry delay for a failed retention run. Tests
// shorten it.
var retryBaseDelay = 30 * time.Second

// RetentionJob deletes persisted samples older than the retention period.
type RetentionJob struct {
	Store     storage.Storage
	Retention time.Duration
	Monitor   *monitor.TaskMonitor

	// Now defaults to time.Now.
	Now func() time.Time
}

func (j *RetentionJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// RunOnce runs the job with retry and exponential backoff: 30s, 60s, 120s.
// It gives up early when ctx is cancelled.
func (j *RetentionJob) RunOnce(ctx context.Context, isInitial bool) {
	for attempt := 0; attempt <= retentionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			log.Printf("Retrying retention in %v (attempt %d/%d)...", delay, attempt+1, retentionMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		cutoff := j.now().Add(-j.Retention)
		removed, err := j.Store.Delete(ctx, cutoff)

		if err == nil {
			j.Monitor.RecordSuccess(removed)
			if isInitial {
				log.Printf("Initial retention completed in %v (%d samples older than %v removed)",
					time.Since(start).Round(time.Millisecond), removed, j.Retention)
			} else {
				log.Printf("Retention completed in %v (%d samples removed)", time.Since(start).Round(time.Millisecond), removed)
			}
			return
		}

		j.Monitor.RecordFailure(err)
		log.Printf("Retention failed (attempt %d/%d): %v", attempt+1, retentionMaxRetries+1, err)

		if status := j.Monitor.Status(); status.ConsecutiveErrors > monitor.MaxConsecutiveErrors {
			log.Printf("ALERT: Retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
		}
	}

	log.Printf("Retention failed after %d attempts, will retry on next schedule", retentionMaxRetries+1)
}

// RunRetention runs the retention job at startup and then every
// config.RetentionInterval until ctx is cancelled.
func RunRetention(ctx context.Context, job *RetentionJob, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.RetentionInterval)
	defer ticker.Stop()

	log.Printf("Running initial retention (keeping %v of samples)...", job.Retention)
	job.RunOnce(ctx, true)

	for {
		select {
		case <-ticker.C:
			log.Println("Scheduled retention started...")
			job.RunOnce(ctx, false)
		case <-ctx.Done():
			log.Println("Stopping retention scheduler")
			return
		}
	}
}

// BroadcastSnapshots forwards every snapshot the engine publishes to the
// WebSocket hub. Uses exponential backoff on errors to prevent log spam.
func BroadcastSnapshots(ctx context.Context, engine *dashboard.Engine, hub *stream.Hub, wg *sync.WaitGroup) {
	defer wg.Done()

	var consecutiveErrors int
	var lastErrorTime time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-engine.Updates():
			// Skip encoding if no clients connected
			if !hub.HasClients() {
				continue
			}

			if err := hub.Broadcast(snap); err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxErrorBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxErrorBackoff {
					backoff = maxErrorBackoff
				}

				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("Failed to broadcast snapshot (error #%d, backoff %v): %v",
						consecutiveErrors, backoff, err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("Snapshot broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}
		}
	}
}

// RunWidgetRefresh keeps the CVE and weather widgets warm.
func RunWidgetRefresh(ctx context.Context, engine *dashboard.Engine, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	if interval <= 0 {
		interval = config.DefaultWidgetTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 2*config.DefaultFetchTimeout)
		defer cancel()
		if err := engine.RefreshWidgets(fetchCtx); err != nil {
			log.Printf("Widget refresh incomplete: %v", err)
		}
	}

	refresh()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// BadgerDB uses LSM trees which accumulate deleted data in value log.
func RunBadgerGC(ctx context.Context, store storage.Storage, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			log.Println("Running BadgerDB garbage collection...")
			start := time.Now()

			// Reclaim a value log file once half of it is garbage.
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// min returns the minimum of two integers.
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
