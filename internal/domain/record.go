package domain

import "time"

// SessionRecord is a persisted session snapshot row.
type SessionRecord struct {
	Key       string
	Version   string
	DataJSON  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
