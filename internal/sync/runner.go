package sync

import (
	"context"
	"errors"
	"fmt"
)

// Runner executes a single polling pass.
type Runner interface {
	RunOnce(context.Context) error
}

var (
	// ErrAuthentication is the kind of a RunError raised while acquiring the
	// bearer credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrUpstream is the kind of a RunError raised by the directory or the
	// event source.
	ErrUpstream = errors.New("upstream request failed")

	// ErrPersist is the kind of a RunError raised while writing state.
	ErrPersist = errors.New("state write failed")

	// ErrRunAlreadyActive is returned by the lock runner when another pass
	// holds the state directory.
	ErrRunAlreadyActive = errors.New("another run is already active")
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageCredential Stage = "credential"
	StageDirectory  Stage = "directory"
	StageEvents     Stage = "events"
	StageState      Stage = "state"
)

// RunError is a run failure tagged with its stage. errors.Is matches both the
// kind sentinel and the underlying cause.
type RunError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s stage: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *RunError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageError(stage Stage, kind, err error) error {
	return &RunError{Stage: stage, Kind: kind, Err: err}
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(context.Context) error

func (f RunnerFunc) RunOnce(ctx context.Context) error {
	return f(ctx)
}
