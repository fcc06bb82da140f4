package session

import (
	"context"
	"log/slog"
	"time"
)

// EvictCallback is called for each session the sweeper removes.
type EvictCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically removes terminal
// sessions whose last update is older than retention. The goroutine exits
// when ctx is cancelled.
func StartSweeper(ctx context.Context, store *Store, interval, retention time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				if n := SweepOnce(store, retention, onEvict); n > 0 {
					slog.Info("Session sweeper evicted sessions", "count", n)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepOnce performs a single cleanup pass and returns the number of sessions
// removed. Exposed for the manual cleanup endpoint.
func SweepOnce(store *Store, retention time.Duration, onEvict EvictCallback) int {
	cutoff := time.Now().Add(-retention)
	removed := store.RemoveTerminalOlderThan(cutoff)
	for _, id := range removed {
		slog.Debug("Session evicted", "session_id", id)
		if onEvict != nil {
			onEvict(id)
		}
	}
	return len(removed)
}
