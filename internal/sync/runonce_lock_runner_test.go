package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/open-sspm/geoalert/internal/state"
)

type countingRunner struct {
	calls int
	err   error
}

func (r *countingRunner) RunOnce(context.Context) error {
	r.calls++
	return r.err
}

func TestTryRunOnceLockRunnerRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "geo_alert.lock")
	holder := state.NewRunLock(path)
	if err := holder.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer func() { _ = holder.Unlock() }()

	inner := &countingRunner{}
	err := NewTryRunOnceLockRunner(state.NewRunLock(path), inner).RunOnce(context.Background())
	if !errors.Is(err, ErrRunAlreadyActive) {
		t.Fatalf("RunOnce error = %v, want ErrRunAlreadyActive", err)
	}
	if inner.calls != 0 {
		t.Fatalf("inner runner called %d times", inner.calls)
	}
}

func TestTryRunOnceLockRunnerReleasesLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "geo_alert.lock")
	inner := &countingRunner{err: errors.New("boom")}
	runner := NewTryRunOnceLockRunner(state.NewRunLock(path), inner)

	for i := 0; i < 2; i++ {
		if err := runner.RunOnce(context.Background()); err == nil || err.Error() != "boom" {
			t.Fatalf("RunOnce error = %v, want inner error", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("inner runner called %d times, want 2", inner.calls)
	}
}

func TestRunErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: timeout")
	err := stageError(StageDirectory, ErrUpstream, cause)
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, ErrAuthentication) {
		t.Fatalf("unexpected match for ErrAuthentication")
	}
}
