package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// EnvFormat controls the output handler format for structured logs.
	EnvFormat = "LOG_FORMAT"
	// EnvLevel controls the minimum severity level for structured logs.
	EnvLevel = "LOG_LEVEL"

	appName       = "geoalert"
	defaultFormat = "json"
	defaultLevel  = "info"
)

// Config is the validated logging configuration derived from environment variables.
type Config struct {
	Format string
	Level  slog.Level
}

// BootstrapOptions controls logger initialization behavior.
type BootstrapOptions struct {
	Command string
	Writer  io.Writer
	// ErrorLog, when set, receives a copy of every record at WARN or above.
	ErrorLog io.Writer
}

// DefaultConfig returns the default structured logging configuration.
func DefaultConfig() Config {
	return Config{
		Format: defaultFormat,
		Level:  slog.LevelInfo,
	}
}

// LoadConfigFromEnv parses and validates logging environment variables.
func LoadConfigFromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)
	if cfg.Format, err = parseFormat(os.Getenv(EnvFormat)); err != nil {
		return Config{}, err
	}
	if cfg.Level, err = parseLevel(os.Getenv(EnvLevel)); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger creates a structured logger with static geoalert context attributes.
func NewLogger(cfg Config, writer io.Writer, command string) *slog.Logger {
	return newLogger(newHandler(cfg, writer), command)
}

// NewLoggerWithErrorLog is NewLogger plus a JSON copy of WARN+ records written to errorLog.
func NewLoggerWithErrorLog(cfg Config, writer, errorLog io.Writer, command string) *slog.Logger {
	if errorLog == nil {
		return NewLogger(cfg, writer, command)
	}
	durable := slog.NewJSONHandler(errorLog, &slog.HandlerOptions{Level: slog.LevelWarn})
	return newLogger(fanout{newHandler(cfg, writer), durable}, command)
}

// BootstrapFromEnv loads logging config from env, installs the default logger, and returns it.
func BootstrapFromEnv(opts BootstrapOptions) (*slog.Logger, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	logger := NewLoggerWithErrorLog(cfg, opts.Writer, opts.ErrorLog, opts.Command)
	slog.SetDefault(logger)
	return logger, nil
}

func newHandler(cfg Config, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		return slog.NewTextHandler(writer, opts)
	default:
		return slog.NewJSONHandler(writer, opts)
	}
}

func newLogger(handler slog.Handler, command string) *slog.Logger {
	command = strings.TrimSpace(command)
	if command == "" {
		command = appName
	}
	return slog.New(handler).With("app", appName, "command", command)
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func parseFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case "":
		return defaultFormat, nil
	case "json", "text":
		return format, nil
	default:
		return "", fmt.Errorf("%s must be one of: json, text", EnvFormat)
	}
}

func parseLevel(raw string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		name = defaultLevel
	}
	level, ok := levels[name]
	if !ok {
		return 0, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
	}
	return level, nil
}
