package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/open-sspm/geoalert/internal/config"
	"github.com/open-sspm/geoalert/internal/logging"
)

const exitCanceled = 130

func main() {
	if code := runMain(Execute, os.Stderr); code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	err := execute()
	if err == nil {
		return 0
	}
	return exitCodeForError(err, stderr)
}

// exitCodeForError reports err on stderr and picks the process exit code.
func exitCodeForError(err error, stderr io.Writer) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		if !ee.silent {
			cause := err
			if ee.err != nil {
				cause = ee.err
			}
			emitCommandError(cause, "command failed", ee.code, stderr)
		}
		return ee.code
	case errors.Is(err, context.Canceled):
		emitCommandError(err, "command canceled", exitCanceled, stderr)
		return exitCanceled
	default:
		emitCommandError(err, "command failed", 1, stderr)
		return 1
	}
}

func emitCommandError(err error, message string, exitCode int, stderr io.Writer) {
	execCtx := currentCommandExecutionContext()
	if !execCtx.UsesStructuredLog {
		if exitCode == exitCanceled {
			fmt.Fprintln(stderr, "canceled")
		} else {
			fmt.Fprintln(stderr, err)
		}
		return
	}

	attrs := []any{"exit_code", exitCode, "error", err}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Key != "" {
		attrs = append(attrs, "config_key", cfgErr.Key)
	}
	loggerForFatalPath(execCtx, stderr).Error(message, attrs...)
}

// loggerForFatalPath builds a stderr-only logger; the run logger may not exist yet.
func loggerForFatalPath(execCtx commandExecutionContext, stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, execCtx.CommandPath)
}
