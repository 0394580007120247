package state

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by TryLock when another run holds the lock.
var ErrLocked = errors.New("state directory is locked by another run")

// RunLock is an advisory file lock guarding the state directory.
type RunLock struct {
	lock *flock.Flock
}

func NewRunLock(path string) *RunLock {
	return &RunLock{lock: flock.New(path)}
}

// TryLock acquires the lock without blocking.
func (l *RunLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o750); err != nil {
		return err
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (l *RunLock) Unlock() error {
	return l.lock.Unlock()
}
