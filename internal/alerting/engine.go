package alerting

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"time"
)

// DefaultSuppressionWindow is the minimum gap between two alerts for the same
// principal.
const DefaultSuppressionWindow = 8 * time.Hour

const (
	CardTimeLayout  = "2006-01-02 15:04:05 MST"
	AuditTimeLayout = "2006-01-02 15:04:05"
)

// Alert is an emitted decision for one sign-in.
type Alert struct {
	Principal   string
	SourceIP    string
	City        string
	Region      string
	Country     string
	CountryFlag string
	LocalTime   time.Time
}

// FormattedTime is the local time as shown on the chat card.
func (a Alert) FormattedTime() string {
	return a.LocalTime.Format(CardTimeLayout)
}

// CountryDisplay is the flag, or the raw code when no flag can be rendered.
func (a Alert) CountryDisplay() string {
	if a.CountryFlag != "" {
		return a.CountryFlag
	}
	return a.Country
}

// Suppression maps a principal to the local time of its last alert.
type Suppression map[string]time.Time

// Decision is the outcome of one pass of the engine over a batch.
type Decision struct {
	Alerts     []Alert
	Suppressed []SignInEvent
	Skipped    []*FieldError

	// Suppression is the updated map; the input map is never modified.
	Suppression        Suppression
	SuppressionChanged bool

	// Watermark is the newest parseable timestamp across every record,
	// alerted or not. HasWatermark is false when no timestamp parsed.
	Watermark    time.Time
	HasWatermark bool

	Fetched int
}

// Engine decides which sign-ins become alerts.
type Engine struct {
	Window   time.Duration
	Location *time.Location
}

func NewEngine(window time.Duration, loc *time.Location) *Engine {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{Window: window, Location: loc}
}

// Decide runs the suppression check over records in ascending timestamp
// order, so a later event for a principal sees the in-memory update made by
// an earlier one in the same batch.
func (e *Engine) Decide(records []Record, current Suppression) Decision {
	d := Decision{
		Fetched:     len(records),
		Suppression: maps.Clone(current),
	}
	if d.Suppression == nil {
		d.Suppression = make(Suppression)
	}

	events := make([]SignInEvent, 0, len(records))
	for _, r := range records {
		ev, err := ParseRecord(r)
		if !ev.Timestamp.IsZero() && (!d.HasWatermark || ev.Timestamp.After(d.Watermark)) {
			d.Watermark = ev.Timestamp
			d.HasWatermark = true
		}
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				d.Skipped = append(d.Skipped, fe)
			}
			continue
		}
		events = append(events, ev)
	}

	slices.SortStableFunc(events, func(a, b SignInEvent) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Principal, b.Principal); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceIP, b.SourceIP)
	})

	for _, ev := range events {
		local := ev.Timestamp.In(e.Location)
		if last, ok := d.Suppression[ev.Principal]; ok && local.Sub(last) < e.Window {
			d.Suppressed = append(d.Suppressed, ev)
			continue
		}
		d.Alerts = append(d.Alerts, Alert{
			Principal:   ev.Principal,
			SourceIP:    ev.SourceIP,
			City:        ev.City,
			Region:      ev.Region,
			Country:     ev.Country,
			CountryFlag: CountryFlag(ev.Country),
			LocalTime:   local,
		})
		d.Suppression[ev.Principal] = local
		d.SuppressionChanged = true
	}
	return d
}
