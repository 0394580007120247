package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
)

// WatermarkLayout is the persisted form: UTC, whole seconds, no offset.
const WatermarkLayout = "2006-01-02T15:04:05"

// WatermarkStore persists the newest sign-in timestamp already fetched.
type WatermarkStore struct {
	path   string
	logger *slog.Logger
}

func NewWatermarkStore(path string, logger *slog.Logger) *WatermarkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermarkStore{path: path, logger: logger}
}

func (s *WatermarkStore) Path() string { return s.path }

// Read returns the stored watermark. A missing or unreadable file yields
// ok=false; corruption is logged, never returned.
func (s *WatermarkStore) Read() (time.Time, bool) {
	ts, err := s.load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("watermark unreadable, using default lower bound", "path", s.path, "err", err)
		}
		return time.Time{}, false
	}
	return ts, true
}

func (s *WatermarkStore) load() (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := ParseWatermark(string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return ts, nil
}

// Write atomically overwrites the stored watermark.
func (s *WatermarkStore) Write(ts time.Time) error {
	return writeFileAtomic(s.path, []byte(FormatWatermark(ts)))
}

func FormatWatermark(ts time.Time) string {
	return ts.UTC().Format(WatermarkLayout)
}

// ParseWatermark accepts the persisted form and RFC 3339 with an offset.
func ParseWatermark(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty watermark")
	}
	if ts, err := time.Parse(WatermarkLayout, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return ts.UTC().Truncate(time.Second), nil
}
