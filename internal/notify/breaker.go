package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/open-sspm/geoalert/internal/alerting"
	"github.com/open-sspm/geoalert/internal/metrics"
)

const breakerName = "teams-webhook"

// GuardOptions configures Guarded.
type GuardOptions struct {
	// RatePerSecond caps webhook posts; zero disables limiting.
	RatePerSecond float64
	// MaxConsecutiveFailures opens the breaker for the rest of the run.
	MaxConsecutiveFailures uint32
	Logger                 *slog.Logger
}

// Guarded wraps a Notifier with a rate limit and a circuit breaker, so a
// dead webhook fails fast instead of costing a timeout per alert.
type Guarded struct {
	next    Notifier
	cb      *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewGuarded(next Notifier, opts GuardOptions) *Guarded {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := opts.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(stateValue(gobreaker.StateClosed))
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		// A run is short; once open, stay open until the next run.
		Timeout: time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &Guarded{next: next, cb: cb, limiter: limiter, logger: logger}
}

func (g *Guarded) Notify(ctx context.Context, alert alerting.Alert) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failure").Inc()
			return err
		}
	}
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Notify(ctx, alert)
	})
	switch {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.NotificationsTotal.WithLabelValues("failure").Inc()
	}
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
