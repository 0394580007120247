package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-sspm/geoalert/internal/alerting"
	"github.com/open-sspm/geoalert/internal/audit"
	"github.com/open-sspm/geoalert/internal/config"
	"github.com/open-sspm/geoalert/internal/entra"
	"github.com/open-sspm/geoalert/internal/logging"
	"github.com/open-sspm/geoalert/internal/metrics"
	"github.com/open-sspm/geoalert/internal/notify"
	"github.com/open-sspm/geoalert/internal/state"
	"github.com/open-sspm/geoalert/internal/sync"
	"github.com/open-sspm/geoalert/internal/vault"
)

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Poll sign-ins once and alert on logins from outside the allowed country.",
	Args:        cobra.NoArgs,
	Annotations: structuredLogAnnotations,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runPoll(ctx, cmd.CommandPath(), cmd.ErrOrStderr(), runInterval)
	},
}

var runInterval time.Duration

func init() {
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "repeat the pass on this interval instead of exiting after one (0 runs once)")
}

// runPoll executes one pass, or one pass per interval until ctx is done.
// Only configuration problems are returned as errors; run failures are logged
// and the process exits 0 so the scheduler simply tries again next time.
func runPoll(ctx context.Context, command string, stderr io.Writer, interval time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	errorLog, err := logging.OpenErrorLog(cfg.Path(config.ErrorLogFile))
	if err != nil {
		return &exitError{code: 1, err: &config.ConfigurationError{Key: "LOG_DIR", Reason: err.Error()}}
	}
	defer errorLog.Close()

	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
		Command:  command,
		Writer:   stderr,
		ErrorLog: errorLog,
	})
	if err != nil {
		return &exitError{code: 1, err: &config.ConfigurationError{Reason: err.Error()}}
	}

	pass := sync.RunnerFunc(func(ctx context.Context) error {
		runPass(ctx, cfg, logger)
		return nil
	})
	if interval <= 0 {
		return pass.RunOnce(ctx)
	}
	(&sync.Scheduler{Runner: pass, Interval: interval, Logger: logger}).Run(ctx)
	return nil
}

func runPass(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	runID := sync.NewRunID()
	ctx = sync.WithRunID(ctx, runID)
	runLogger := logger.With("run_id", runID)

	recoverPass(runLogger, func() {
		runner, err := buildRunner(ctx, cfg, logger, runLogger)
		if err != nil {
			runLogger.Error("run setup failed", "err", err)
			return
		}
		logRunOutcome(runLogger, cfg, runner.RunOnce(ctx))
	})

	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		runLogger.Warn("failed to write metrics textfile", "path", cfg.MetricsTextfile, "err", err)
	}
}

// recoverPass turns a panic inside a pass into an error-log entry so the
// process and any scheduler loop survive it.
func recoverPass(logger *slog.Logger, pass func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	pass()
}

func logRunOutcome(logger *slog.Logger, cfg config.Config, err error) {
	var runErr *sync.RunError
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrRunAlreadyActive):
		logger.Warn("another run holds the state lock; skipping", "lock", cfg.Path(config.LockFile))
	case errors.Is(err, context.Canceled):
		logger.Warn("run canceled", "err", err)
	case errors.As(err, &runErr):
		logger.Error("run failed", "stage", string(runErr.Stage), "kind", runErr.Kind.Error(), "err", runErr.Err)
	default:
		logger.Error("run failed", "err", err)
	}
}

// buildRunner wires the production collaborators. The orchestrator takes the
// base logger and tags its own lines with the run id from ctx; everything else
// logs through runLogger.
func buildRunner(ctx context.Context, cfg config.Config, logger, runLogger *slog.Logger) (sync.Runner, error) {
	secret := cfg.ClientSecret
	if cfg.Vault.Enabled() {
		var err error
		secret, err = readVaultSecret(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client, err := entra.NewWithOptions(cfg.TenantID, cfg.ClientID, secret, entra.Options{
		HTTPClient:       httpClient,
		GraphBaseURL:     cfg.GraphBaseURL,
		GraphBetaBaseURL: cfg.GraphBetaBaseURL,
		AuthorityBaseURL: cfg.AuthorityBaseURL,
	})
	if err != nil {
		return nil, err
	}

	teams, err := notify.NewTeams(notify.TeamsOptions{
		WebhookURL:     cfg.TeamsWebhook,
		AllowedCountry: cfg.AllowedCountry,
		ActionURL:      cfg.ActionURL,
		HTTPClient:     httpClient,
	})
	if err != nil {
		return nil, err
	}

	orch, err := sync.NewOrchestrator(sync.Options{
		GroupID:        cfg.GroupID,
		AllowedCountry: cfg.AllowedCountry,
		Lookback:       cfg.WatermarkLookback,
		Engine:         alerting.NewEngine(cfg.SuppressionWindow, cfg.Location),
		Credentials:    client,
		Directory:      entra.NewDirectory(client, runLogger),
		Events:         entra.NewSignInSource(client),
		Notifier: notify.NewGuarded(teams, notify.GuardOptions{
			RatePerSecond:          cfg.WebhookRatePerSecond,
			MaxConsecutiveFailures: uint32(cfg.WebhookBreakerFailures),
			Logger:                 runLogger,
		}),
		Audit: &audit.Trail{
			CSVPath:        cfg.Path(config.CSVFile),
			LogPath:        cfg.Path(config.AlertLogFile),
			AllowedCountry: cfg.AllowedCountry,
			Location:       cfg.Location,
		},
		Watermarks:   state.NewWatermarkStore(cfg.Path(config.WatermarkFile), runLogger),
		Suppressions: state.NewSuppressionStore(cfg.Path(config.SuppressionFile), cfg.Location, runLogger),
		Reporter:     &sync.LogReporter{Logger: runLogger},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return sync.NewTryRunOnceLockRunner(state.NewRunLock(cfg.Path(config.LockFile)), orch), nil
}

func readVaultSecret(ctx context.Context, cfg config.Config) (string, error) {
	v := cfg.Vault
	client, err := vault.New(ctx, vault.Options{
		Address:          v.Address,
		Namespace:        v.Namespace,
		AuthType:         v.AuthType,
		Token:            v.Token,
		AppRoleMountPath: v.AppRoleMountPath,
		AppRoleRoleID:    v.AppRoleRoleID,
		AppRoleSecretID:  v.AppRoleSecretID,
		Timeout:          cfg.HTTPTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	return client.ReadSecret(ctx, v.SecretMount, v.SecretPath, v.SecretKey)
}
