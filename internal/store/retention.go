package store

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionWorker periodically deletes turn records older than retention.
// It runs until ctx is canceled. A non-positive retention disables the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Turn retention disabled")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		pruneTurns(ctx, repo, retention)
		for {
			select {
			case <-ctx.Done():
				slog.Info("Retention worker stopped")
				return
			case <-ticker.C:
				pruneTurns(ctx, repo, retention)
			}
		}
	}()
}

func pruneTurns(ctx context.Context, repo Repository, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	n, err := repo.DeleteTurnsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Retention worker: failed to prune turns", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Retention worker: pruned turns", "deleted", n, "cutoff", cutoff)
	}
}
