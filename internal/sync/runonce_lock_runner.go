package sync

import (
	"context"
	"errors"

	"github.com/open-sspm/geoalert/internal/state"
)

type runOnceLockRunner struct {
	lock  *state.RunLock
	inner Runner
}

// NewTryRunOnceLockRunner guards inner with the state directory lock. When
// the lock is held elsewhere RunOnce returns ErrRunAlreadyActive without
// touching any state.
func NewTryRunOnceLockRunner(lock *state.RunLock, inner Runner) Runner {
	return &runOnceLockRunner{lock: lock, inner: inner}
}

func (r *runOnceLockRunner) RunOnce(ctx context.Context) error {
	if r == nil || r.lock == nil || r.inner == nil {
		return errors.New("run lock runner is not configured")
	}

	if err := r.lock.TryLock(); err != nil {
		if errors.Is(err, state.ErrLocked) {
			return ErrRunAlreadyActive
		}
		return err
	}
	defer func() {
		_ = r.lock.Unlock()
	}()
	return r.inner.RunOnce(ctx)
}
