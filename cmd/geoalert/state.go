package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/open-sspm/geoalert/internal/config"
	"github.com/open-sspm/geoalert/internal/logging"
	"github.com/open-sspm/geoalert/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or edit the persisted watermark and suppression map.",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the watermark and suppression map as JSON.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStateShow(cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

var stateUnsuppressCmd = &cobra.Command{
	Use:   "unsuppress <principal>",
	Short: "Remove one principal from the suppression map so its next sign-in alerts.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStateUnsuppress(args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

type stateView struct {
	Watermark   string            `json:"watermark,omitempty"`
	Suppression map[string]string `json:"suppression"`
}

func runStateShow(stdout, stderr io.Writer) error {
	cfg, err := config.LoadState()
	if err != nil {
		return err
	}
	logger := stateLogger(stderr)

	view := stateView{Suppression: map[string]string{}}
	if ts, ok := state.NewWatermarkStore(cfg.Path(config.WatermarkFile), logger).Read(); ok {
		view.Watermark = state.FormatWatermark(ts)
	}
	for principal, ts := range state.NewSuppressionStore(cfg.Path(config.SuppressionFile), cfg.Location, logger).Read() {
		view.Suppression[principal] = ts.In(cfg.Location).Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func runStateUnsuppress(principal string, stdout, stderr io.Writer) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return errors.New("principal is required")
	}
	cfg, err := config.LoadState()
	if err != nil {
		return err
	}

	lock := state.NewRunLock(cfg.Path(config.LockFile))
	if err := lock.TryLock(); err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	store := state.NewSuppressionStore(cfg.Path(config.SuppressionFile), cfg.Location, stateLogger(stderr))
	current := store.Read()
	removed := 0
	for key := range current {
		if strings.EqualFold(key, principal) {
			delete(current, key)
			removed++
		}
	}
	if removed == 0 {
		return fmt.Errorf("no suppression entry for %s", principal)
	}
	if err := store.Write(current); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "removed suppression for %s\n", principal)
	return err
}

func stateLogger(stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, currentCommandExecutionContext().CommandPath)
}
