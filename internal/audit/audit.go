// Package audit appends the human-readable trail of emitted alerts: one CSV
// row and one log line per alert. Both files are append-only.
package audit

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-sspm/geoalert/internal/alerting"
)

const (
	fileMode         = 0o640
	logLineTimestamp = "2006-01-02 15:04:05-07:00"
)

// Trail writes the CSV audit file and the alert log.
type Trail struct {
	CSVPath        string
	LogPath        string
	AllowedCountry string
	// Location stamps the run start in log lines; nil keeps the given zone.
	Location *time.Location
}

// Append records alerts. runStarted stamps each log line.
func (t *Trail) Append(runStarted time.Time, alerts []alerting.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return errors.Join(t.appendCSV(alerts), t.appendLog(runStarted, alerts))
}

func (t *Trail) appendCSV(alerts []alerting.Alert) error {
	f, err := openAppend(t.CSVPath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for _, a := range alerts {
		if err := w.Write(Row(a)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (t *Trail) appendLog(runStarted time.Time, alerts []alerting.Alert) error {
	f, err := openAppend(t.LogPath)
	if err != nil {
		return err
	}
	if t.Location != nil {
		runStarted = runStarted.In(t.Location)
	}
	w := bufio.NewWriter(f)
	for _, a := range alerts {
		fmt.Fprintln(w, LogLine(runStarted, t.AllowedCountry, a))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Row is the CSV form: local time, principal, ip, city, region, country.
func Row(a alerting.Alert) []string {
	return []string{
		a.LocalTime.Format(alerting.AuditTimeLayout),
		a.Principal,
		a.SourceIP,
		a.City,
		a.Region,
		a.Country,
	}
}

func LogLine(runStarted time.Time, allowedCountry string, a alerting.Alert) string {
	return fmt.Sprintf("[%s] ALERT: Outside-%s login for %s at %s",
		runStarted.Format(time.RFC3339), allowedCountry, a.Principal, a.LocalTime.Format(logLineTimestamp))
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, fileMode)
}
