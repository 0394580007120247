package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "geoalert"
)

var (
	runDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600}

	// Run Metrics
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Time taken for one polling run to complete.",
		Buckets:   runDurationBuckets,
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Count of polling runs by outcome.",
	}, []string{"status"})

	LastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful run.",
	})

	// Event Metrics
	EventsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_fetched_total",
		Help:      "Sign-in events returned by the event source.",
	})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Per-event alert decisions by outcome (emitted, suppressed, skipped).",
	}, []string{"outcome"})

	MonitoredPrincipals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitored_principals",
		Help:      "Principals resolved from the monitored group in the last run.",
	})

	WatermarkTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watermark_timestamp_seconds",
		Help:      "Unix timestamp of the persisted watermark.",
	})

	// Notification Metrics
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Webhook deliveries by status (success, failure, rejected).",
	}, []string{"status"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
