package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned when another process holds the database lock.
var ErrLocked = errors.New("database is in use by another process")

// DBLock is an advisory, process-exclusive lock on a database path. The
// server and tddctl each own a state machine over the same snapshot key,
// so only one of them may run against a database at a time.
type DBLock struct {
	f *os.File
}

// LockPath returns the lock file used for dbPath.
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireLock takes the lock for dbPath without blocking. It returns
// ErrLocked when the lock is held elsewhere.
func AcquireLock(dbPath string) (*DBLock, error) {
	path := LockPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	// The pid is informational; the flock is what excludes.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &DBLock{f: f}, nil
}

// Release drops the lock. The lock file stays behind for reuse.
func (l *DBLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
