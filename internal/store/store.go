// Package store provides session snapshot persistence.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// Repository persists versioned session snapshots keyed by workspace.
type Repository interface {
	// GetSnapshot retrieves the snapshot stored under key. It returns nil
	// without error when nothing is stored.
	GetSnapshot(ctx context.Context, key string) (*domain.SessionRecord, error)

	// UpsertSnapshot creates or replaces the snapshot under rec.Key.
	UpsertSnapshot(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSnapshot removes the snapshot under key.
	DeleteSnapshot(ctx context.Context, key string) error

	// CleanupExpiredSnapshots removes snapshots not updated within ttl.
	CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
