package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/tdd-mentor/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_key TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated ON session_snapshots(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot stored under key.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, key string) (*domain.SessionRecord, error) {
	query := `
		SELECT session_key, version, data_json, created_at, updated_at
		FROM session_snapshots WHERE session_key = ?`

	var rec domain.SessionRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.Version, &rec.DataJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session snapshot: %w", err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSnapshot creates or replaces the snapshot under rec.Key. The
// original creation time is kept on update.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
		INSERT INTO session_snapshots (session_key, version, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			version = excluded.version,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return withBusyRetry(ctx, "upsert session snapshot", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			rec.Key, rec.Version, rec.DataJSON, createdAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
}

// DeleteSnapshot removes the snapshot under key.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, key string) error {
	return withBusyRetry(ctx, "delete session snapshot", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_key = ?`, key)
		return err
	})
}

// CleanupExpiredSnapshots removes snapshots not updated within ttl.
func (s *SQLiteStore) CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()

	var removed int64
	err := withBusyRetry(ctx, "cleanup expired snapshots", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		result, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}
