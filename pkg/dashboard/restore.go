package dashboard

import (
	"context"
	"fmt"
	"log"

	"github.com/netwatch-labs/netwatch/pkg/storage"
)

// Restore replays persisted samples newer than now-horizon into the window
// so the charts survive a restart. It must run before the first tick and
// returns the number of samples replayed.
func (e *Engine) Restore(ctx context.Context, st storage.Storage) (int, error) {
	if st == nil {
		return 0, nil
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.now()
	cutoff := now.Add(-e.store.Horizon())
	samples, err := st.Query(ctx, storage.QueryRequest{
		Start: cutoff,
		End:   now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query persisted samples: %w", err)
	}

	// Query orders by key then time, so each key is replayed in
	// non-decreasing timestamp order. The cutoff itself is already outside
	// the window.
	restored := 0
	for _, s := range samples {
		if !s.Timestamp.After(cutoff) {
			continue
		}
		e.store.Record(s.Key, s.Timestamp, s.Download, s.Upload)
		restored++
	}
	e.store.EvictAll(now)

	if restored > 0 {
		log.Printf("Restored %d samples across %d keys", restored, len(e.store.Keys()))
	}
	return restored, nil
}
