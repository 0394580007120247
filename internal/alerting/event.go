package alerting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-sspm/geoalert/internal/normalize"
)

// Query is what the event source needs to return new sign-ins for the
// monitored principals.
type Query struct {
	Since          time.Time
	Principals     []string
	AllowedCountry string
}

// Record is one sign-in row exactly as the event source reported it.
type Record struct {
	Timestamp string
	Principal string
	SourceIP  string
	Country   string
	City      string
	Region    string
}

// SignInEvent is a validated sign-in with its timestamp in UTC, truncated to
// whole seconds.
type SignInEvent struct {
	Principal string
	Timestamp time.Time
	SourceIP  string
	Country   string
	City      string
	Region    string
}

var (
	ErrMissingPrincipal = errors.New("record has no principal")
	ErrMissingTimestamp = errors.New("record has no timestamp")
)

// FieldError marks a record that was skipped because a required field was
// missing or malformed.
type FieldError struct {
	Record Record
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("skipping sign-in record (principal=%q timestamp=%q): %v", e.Record.Principal, e.Record.Timestamp, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// timestampLayouts are tried in order; values without an offset are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a source-reported instant and truncates it to whole
// seconds in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ParseRecord validates r. When the principal is missing but the timestamp
// parses, the timestamp is still returned so it can count toward the
// watermark.
func ParseRecord(r Record) (SignInEvent, error) {
	ts, tsErr := ParseTimestamp(r.Timestamp)
	ev := SignInEvent{
		Principal: normalize.Trim(r.Principal),
		Timestamp: ts,
		SourceIP:  normalize.Trim(r.SourceIP),
		Country:   normalize.Upper(r.Country),
		City:      normalize.Trim(r.City),
		Region:    normalize.Trim(r.Region),
	}
	if tsErr != nil {
		return ev, &FieldError{Record: r, Err: tsErr}
	}
	if ev.Principal == "" {
		return ev, &FieldError{Record: r, Err: ErrMissingPrincipal}
	}
	return ev, nil
}
