package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/open-sspm/geoalert/internal/alerting"
	"github.com/open-sspm/geoalert/internal/metrics"
	"github.com/open-sspm/geoalert/internal/notify"
)

const defaultLookback = 24 * time.Hour

// CredentialProvider yields a bearer token for the upstream APIs.
type CredentialProvider interface {
	Token(context.Context) (string, error)
}

// DirectoryResolver returns the principals that belong to a group.
type DirectoryResolver interface {
	ResolvePrincipals(ctx context.Context, groupID string) ([]string, error)
}

// EventSource returns sign-in records matching a query.
type EventSource interface {
	FetchSignIns(ctx context.Context, q alerting.Query) ([]alerting.Record, error)
}

// AuditLog appends emitted alerts to the durable trail.
type AuditLog interface {
	Append(runStarted time.Time, alerts []alerting.Alert) error
}

type WatermarkStore interface {
	Read() (time.Time, bool)
	Write(time.Time) error
}

type SuppressionStore interface {
	Read() alerting.Suppression
	Write(alerting.Suppression) error
}

// Options wires an Orchestrator. Every collaborator is required except
// Reporter, Logger and Now.
type Options struct {
	GroupID        string
	AllowedCountry string
	// Lookback is the lower bound used when no watermark is stored.
	Lookback time.Duration
	Engine   *alerting.Engine

	Credentials  CredentialProvider
	Directory    DirectoryResolver
	Events       EventSource
	Notifier     notify.Notifier
	Audit        AuditLog
	Watermarks   WatermarkStore
	Suppressions SuppressionStore

	Reporter Reporter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Summary describes what one pass did.
type Summary struct {
	Principals         int
	Fetched            int
	Alerts             int
	Suppressed         int
	Skipped            int
	NotifyFailures     int
	SuppressionWritten bool
	Watermark          time.Time
	WatermarkWritten   bool
}

// Orchestrator sequences one polling pass: credential, directory, events,
// decision, notification, audit, then state persistence.
type Orchestrator struct {
	opts Options
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case strings.TrimSpace(opts.GroupID) == "":
		return nil, errors.New("group id is required")
	case opts.Engine == nil:
		return nil, errors.New("decision engine is required")
	case opts.Credentials == nil:
		return nil, errors.New("credential provider is required")
	case opts.Directory == nil:
		return nil, errors.New("directory resolver is required")
	case opts.Events == nil:
		return nil, errors.New("event source is required")
	case opts.Notifier == nil:
		return nil, errors.New("notifier is required")
	case opts.Audit == nil:
		return nil, errors.New("audit log is required")
	case opts.Watermarks == nil:
		return nil, errors.New("watermark store is required")
	case opts.Suppressions == nil:
		return nil, errors.New("suppression store is required")
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{opts: opts}, nil
}

func (o *Orchestrator) RunOnce(ctx context.Context) error {
	_, err := o.Run(ctx)
	return err
}

// Run executes one pass and records run metrics.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	started := o.opts.Now()
	summary, err := o.run(ctx, started)

	metrics.RunDuration.Observe(o.opts.Now().Sub(started).Seconds())
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		return summary, err
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.LastSuccessTimestamp.Set(float64(o.opts.Now().Unix()))
	o.report(Event{Done: true, Message: "run complete"})
	o.logger(ctx).Info("run summary",
		"principals", summary.Principals,
		"fetched", summary.Fetched,
		"alerts", summary.Alerts,
		"suppressed", summary.Suppressed,
		"skipped", summary.Skipped,
		"notify_failures", summary.NotifyFailures,
		"watermark_written", summary.WatermarkWritten,
	)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, started time.Time) (Summary, error) {
	var summary Summary
	logger := o.logger(ctx)

	if _, err := o.opts.Credentials.Token(ctx); err != nil {
		return summary, stageError(StageCredential, ErrAuthentication, err)
	}

	principals, err := o.opts.Directory.ResolvePrincipals(ctx, o.opts.GroupID)
	if err != nil {
		return summary, stageError(StageDirectory, ErrUpstream, err)
	}
	summary.Principals = len(principals)
	metrics.MonitoredPrincipals.Set(float64(len(principals)))
	if len(principals) == 0 {
		logger.Warn("monitored group has no principals; nothing to do", "group_id", o.opts.GroupID)
		return summary, nil
	}
	o.report(Event{Stage: string(StageDirectory), Message: "resolved monitored principals", Current: int64(len(principals)), Total: int64(len(principals))})

	stored, hasStored := o.opts.Watermarks.Read()
	since := started.UTC().Add(-o.opts.Lookback)
	if hasStored {
		since = stored
	}
	current := o.opts.Suppressions.Read()

	records, err := o.opts.Events.FetchSignIns(ctx, alerting.Query{
		Since:          since,
		Principals:     principals,
		AllowedCountry: o.opts.AllowedCountry,
	})
	if err != nil {
		return summary, stageError(StageEvents, ErrUpstream, err)
	}
	metrics.EventsFetchedTotal.Add(float64(len(records)))
	logger.Info("fetched sign-in events", "count", len(records), "since", since.Format(time.RFC3339))

	decision := o.opts.Engine.Decide(records, current)
	summary.Fetched = decision.Fetched
	summary.Alerts = len(decision.Alerts)
	summary.Suppressed = len(decision.Suppressed)
	summary.Skipped = len(decision.Skipped)
	metrics.DecisionsTotal.WithLabelValues("emitted").Add(float64(len(decision.Alerts)))
	metrics.DecisionsTotal.WithLabelValues("suppressed").Add(float64(len(decision.Suppressed)))
	metrics.DecisionsTotal.WithLabelValues("skipped").Add(float64(len(decision.Skipped)))

	for _, fe := range decision.Skipped {
		logger.Warn("skipping malformed sign-in record",
			"principal", fe.Record.Principal,
			"timestamp", fe.Record.Timestamp,
			"err", fe.Err,
		)
	}

	summary.NotifyFailures = o.notify(ctx, decision.Alerts)

	if err := o.opts.Audit.Append(started, decision.Alerts); err != nil {
		logger.Error("failed to append audit trail", "alerts", len(decision.Alerts), "err", err)
	}

	var persistErrs []error
	if decision.SuppressionChanged {
		if err := o.opts.Suppressions.Write(decision.Suppression); err != nil {
			persistErrs = append(persistErrs, err)
		} else {
			summary.SuppressionWritten = true
		}
	}

	if decision.HasWatermark {
		switch {
		case hasStored && !decision.Watermark.After(stored):
			logger.Debug("computed watermark does not advance stored value",
				"stored", stored.Format(time.RFC3339),
				"computed", decision.Watermark.Format(time.RFC3339),
			)
		default:
			if err := o.opts.Watermarks.Write(decision.Watermark); err != nil {
				persistErrs = append(persistErrs, err)
			} else {
				summary.Watermark = decision.Watermark
				summary.WatermarkWritten = true
				metrics.WatermarkTimestamp.Set(float64(decision.Watermark.Unix()))
			}
		}
	}
	if len(persistErrs) > 0 {
		return summary, stageError(StageState, ErrPersist, errors.Join(persistErrs...))
	}
	return summary, nil
}

// notify delivers each alert in order. A failed delivery is logged and the
// remaining alerts still go out. It returns the number of failures.
func (o *Orchestrator) notify(ctx context.Context, alerts []alerting.Alert) int {
	logger := o.logger(ctx)
	failures := 0
	total := int64(len(alerts))
	for i, alert := range alerts {
		if err := o.opts.Notifier.Notify(ctx, alert); err != nil {
			failures++
			logger.Error("failed to deliver alert",
				"principal", alert.Principal,
				"source_ip", alert.SourceIP,
				"country", alert.Country,
				"err", err,
			)
		}
		o.report(Event{Stage: "notify", Message: "delivering alerts", Current: int64(i + 1), Total: total})
	}
	return failures
}

func (o *Orchestrator) logger(ctx context.Context) *slog.Logger {
	logger := o.opts.Logger
	if id, ok := RunIDFromContext(ctx); ok {
		logger = logger.With("run_id", id)
	}
	return logger
}

func (o *Orchestrator) report(e Event) {
	if o.opts.Reporter == nil {
		return
	}
	if e.At.IsZero() {
		e.At = o.opts.Now()
	}
	o.opts.Reporter.Report(e)
}
