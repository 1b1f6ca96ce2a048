package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = time.Hour

// CleanupCallback is called with the number of snapshots a sweep removed.
type CleanupCallback func(removed int64)

// StartRetentionWorker runs a background goroutine that periodically deletes
// snapshots not updated within retention. A non-positive retention disables
// the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration, onCleanup CleanupCallback) {
	if retention <= 0 {
		slog.Info("retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, retention, onCleanup)
			case <-ctx.Done():
				slog.Info("retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo Repository, retention time.Duration, onCleanup CleanupCallback) {
	removed, err := repo.CleanupExpiredSnapshots(ctx, retention)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("retention sweep interrupted", "error", err)
			return
		}
		slog.Error("retention worker failed to clean up snapshots", "error", err)
		return
	}
	if removed == 0 {
		return
	}

	slog.Info("retention worker removed stale snapshots", "count", removed)
	if onCleanup != nil {
		onCleanup(removed)
	}
}
