package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// ProcessLock guards a data directory against concurrent writer
// processes with an advisory file lock. The SQLite store and the vector
// index sidecar both assume a single writer; a second sync daemon on the
// same directory would corrupt the generation bookkeeping.
type ProcessLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewProcessLock creates a lock for the given data directory. The lock
// file lives at <dir>/.clementine.lock.
func NewProcessLock(dir string) *ProcessLock {
	lockPath := filepath.Join(dir, ".clementine.lock")
	return &ProcessLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Acquire takes the lock without blocking. A held lock means another
// process owns the data directory.
func (l *ProcessLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire process lock: %w", err)
	}
	if !acquired {
		return apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("data directory locked by another process (%s)", l.path), nil)
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call on an unheld lock.
func (l *ProcessLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release process lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *ProcessLock) Path() string {
	return l.path
}
