package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// IsBusy reports whether err is a SQLite concurrency error, either
// SQLITE_BUSY or "database is locked". Both are worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const (
	busyRetries   = 3
	busyBaseDelay = 50 * time.Millisecond
)

// retryBusy runs op up to busyRetries times, doubling the delay after each
// busy failure: 50ms, 100ms.
func retryBusy(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !IsBusy(err) || i == busyRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i)
		slog.Debug("Database busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
