package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/open-sspm/geoalert/internal/alerting"
)

// SuppressionStore persists the last alert time per principal as a JSON
// object of RFC 3339 local instants.
type SuppressionStore struct {
	path   string
	loc    *time.Location
	logger *slog.Logger
}

func NewSuppressionStore(path string, loc *time.Location, logger *slog.Logger) *SuppressionStore {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SuppressionStore{path: path, loc: loc, logger: logger}
}

func (s *SuppressionStore) Path() string { return s.path }

// Read loads the map. A missing file is an empty map; a corrupt file is
// logged and also treated as empty, which at worst re-alerts once.
func (s *SuppressionStore) Read() alerting.Suppression {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("suppression state unreadable, starting empty", "path", s.path, "err", err)
		}
		return alerting.Suppression{}
	}

	out, err := s.decode(data)
	if err != nil {
		s.logger.Warn("suppression state corrupt, starting empty", "path", s.path, "err", err)
		return alerting.Suppression{}
	}
	return out
}

func (s *SuppressionStore) decode(data []byte) (alerting.Suppression, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	out := make(alerting.Suppression, len(raw))
	for principal, value := range raw {
		principal = strings.TrimSpace(principal)
		ts, err := s.parseInstant(value)
		if principal == "" || err != nil {
			s.logger.Warn("dropping malformed suppression entry", "principal", principal, "value", value, "err", err)
			continue
		}
		out[principal] = ts
	}
	return out, nil
}

// parseInstant reads an RFC 3339 instant; values without an offset are taken
// to be in the configured zone.
func (s *SuppressionStore) parseInstant(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.In(s.loc), nil
	}
	ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", value, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse suppression instant %q: %w", value, err)
	}
	return ts, nil
}

// Write atomically overwrites the map, pretty-printed with sorted keys.
func (s *SuppressionStore) Write(m alerting.Suppression) error {
	data, err := s.encode(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

func (s *SuppressionStore) encode(m alerting.Suppression) ([]byte, error) {
	raw := make(map[string]string, len(m))
	for principal, ts := range m {
		raw[principal] = ts.In(s.loc).Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
