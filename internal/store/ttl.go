package store

import (
	"context"
	"log/slog"
	"time"
)

// CleanupCallback is called for each session the TTL worker removes.
type CleanupCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically removes
// sessions idle longer than ttl, with their history and feedback.
func StartTTLWorker(ctx context.Context, repo Repository, ttl, interval time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				SweepExpiredSessions(ctx, repo, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepExpiredSessions performs one TTL pass.
func SweepExpiredSessions(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) {
	expired, err := repo.ExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	slog.Info("TTL worker found expired sessions", "count", len(expired))
	if onCleanup != nil {
		for _, id := range expired {
			onCleanup(id)
		}
	}

	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Warn("TTL worker failed to delete expired sessions", "error", err)
		return
	}
	slog.Info("TTL worker cleanup completed", "cleaned", deleted)
}
