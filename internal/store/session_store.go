package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

const (
	// SchemaVersion tags every persisted snapshot. Snapshots written under
	// another version are discarded on load.
	SchemaVersion = "1.0"

	// DefaultSessionKey is the workspace-scoped key snapshots live under.
	DefaultSessionKey = "tddMentorAIState"
)

// envelope is the persisted record layout.
type envelope struct {
	Version string         `json:"version"`
	Data    domain.Session `json:"data"`
}

// SessionStore saves and restores the session aggregate for one workspace.
type SessionStore struct {
	repo   Repository
	key    string
	logger *slog.Logger
}

// NewSessionStore binds repo to a single session key.
func NewSessionStore(repo Repository, key string, logger *slog.Logger) *SessionStore {
	if key == "" {
		key = DefaultSessionKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{repo: repo, key: key, logger: logger}
}

// Key returns the session key.
func (s *SessionStore) Key() string { return s.key }

// Save writes the aggregate as {version, data}.
func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(envelope{Version: SchemaVersion, Data: session})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.repo.UpsertSnapshot(ctx, &domain.SessionRecord{
		Key:      s.key,
		Version:  SchemaVersion,
		DataJSON: string(raw),
	})
}

// Load returns the stored aggregate, or nil when there is no usable
// session: nothing stored, a different schema version, or unreadable data.
func (s *SessionStore) Load(ctx context.Context) (*domain.Session, error) {
	rec, err := s.repo.GetSnapshot(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(rec.DataJSON), &env); err != nil {
		s.logger.Warn("discarding unreadable session snapshot", "session_key", s.key, "error", err)
		return nil, nil
	}
	if env.Version != SchemaVersion {
		s.logger.Warn("discarding session snapshot with old schema",
			"session_key", s.key, "stored_version", env.Version, "current_version", SchemaVersion)
		return nil, nil
	}
	if !env.Data.Phase.Valid() {
		s.logger.Warn("discarding session snapshot with unknown phase", "session_key", s.key, "phase", env.Data.Phase)
		return nil, nil
	}

	return &env.Data, nil
}

// Clear removes the stored session.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.repo.DeleteSnapshot(ctx, s.key)
}
