package sync

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultProgressInterval    = 5 * time.Second
	defaultProgressPercentStep = int64(5)
)

type logReporterState struct {
	lastLoggedAt      time.Time
	lastLoggedPercent int64
}

// LogReporter logs run events, throttling per-stage progress lines.
type LogReporter struct {
	Logger              *slog.Logger
	ProgressInterval    time.Duration
	ProgressPercentStep int64

	mu    sync.Mutex
	state map[string]logReporterState
}

func (r *LogReporter) Report(e Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := e.At
	if now.IsZero() {
		now = time.Now()
	}

	var attrs []any
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage)
	}
	if e.Current != 0 || e.Total != 0 {
		attrs = append(attrs, "current", e.Current, "total", e.Total)
	}

	message := e.Message
	if e.Err != nil {
		if message == "" {
			if e.Stage != "" {
				message = e.Stage + " failed"
			} else {
				message = "run failed"
			}
		}
		attrs = append(attrs, "err", e.Err)
		logger.Error(message, attrs...)
		return
	}
	if message == "" {
		if !e.Done {
			return
		}
		message = "run complete"
	}

	if !r.shouldLogEvent(now, e) {
		return
	}
	logger.Info(message, attrs...)
}

func (r *LogReporter) shouldLogEvent(now time.Time, e Event) bool {
	interval := r.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	step := r.ProgressPercentStep
	if step <= 0 {
		step = defaultProgressPercentStep
	}

	if e.Done || e.Total <= 1 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		r.state = make(map[string]logReporterState)
	}
	percent := progressPercent(e.Current, e.Total)
	if percent > 0 {
		percent = (percent / step) * step
	}

	// Stage start and end always log.
	if e.Current <= 0 || e.Current >= e.Total {
		r.state[e.Stage] = logReporterState{lastLoggedAt: now, lastLoggedPercent: percent}
		return true
	}

	prev := r.state[e.Stage]
	if !prev.lastLoggedAt.IsZero() && now.Sub(prev.lastLoggedAt) < interval && percent < prev.lastLoggedPercent+step {
		return false
	}
	r.state[e.Stage] = logReporterState{lastLoggedAt: now, lastLoggedPercent: percent}
	return true
}

func progressPercent(current, total int64) int64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return (current * 100) / total
}
