package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	busyMaxAttempts = 3
	busyBaseDelay   = 100 * time.Millisecond
)

// isConflict reports whether err is a SQLite lock conflict worth retrying.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, retrying lock conflicts with exponential backoff
// (100ms, 200ms).
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := range busyMaxAttempts {
		if err = fn(); err == nil {
			return nil
		}
		if !isConflict(err) || attempt == busyMaxAttempts-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<attempt)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
