package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler repeats a Runner on a fixed interval for deployments without an
// external scheduler. Each pass is independent; the first starts immediately.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Logger   *slog.Logger
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Runner == nil || s.Interval <= 0 {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("scheduler started", "interval", s.Interval.String())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for pass := 1; ; pass++ {
		s.runPass(ctx, logger, pass)
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped", "passes", pass)
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, logger *slog.Logger, pass int) {
	err := s.Runner.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunAlreadyActive):
		logger.Info("pass skipped; another run holds the lock", "pass", pass)
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("scheduled pass failed", "pass", pass, "err", err)
	}
}
