package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/open-sspm/geoalert/internal/alerting"
)

func TestTrailAppend(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	dir := t.TempDir()
	trail := &Trail{
		CSVPath:        filepath.Join(dir, "geo_alert.csv"),
		LogPath:        filepath.Join(dir, "geo_alert.log"),
		AllowedCountry: "US",
	}
	alert := alerting.Alert{
		Principal: "alice@x.com",
		SourceIP:  "203.0.113.7",
		City:      "Paris, Centre",
		Region:    "Ile-de-France",
		Country:   "FR",
		LocalTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).In(loc),
	}
	started := time.Date(2024, 1, 1, 8, 15, 0, 0, loc)

	for i := 0; i < 2; i++ {
		if err := trail.Append(started, []alerting.Alert{alert}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	csvData, err := os.ReadFile(trail.CSVPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	wantRow := `2024-01-01 07:00:00,alice@x.com,203.0.113.7,"Paris, Centre",Ile-de-France,FR` + "\n"
	if string(csvData) != wantRow+wantRow {
		t.Fatalf("csv = %q", csvData)
	}

	logData, err := os.ReadFile(trail.LogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	want := "[2024-01-01T08:15:00-05:00] ALERT: Outside-US login for alice@x.com at 2024-01-01 07:00:00-05:00"
	if len(lines) != 2 || lines[0] != want {
		t.Fatalf("log lines = %q", lines)
	}
}

func TestTrailAppendNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	trail := &Trail{CSVPath: filepath.Join(dir, "geo_alert.csv"), LogPath: filepath.Join(dir, "geo_alert.log")}
	if err := trail.Append(time.Now(), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(trail.CSVPath); !os.IsNotExist(err) {
		t.Fatalf("expected no csv file, stat err = %v", err)
	}
}

func TestTrailAppendStampsRunStartInLocation(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	dir := t.TempDir()
	trail := &Trail{
		CSVPath:        filepath.Join(dir, "geo_alert.csv"),
		LogPath:        filepath.Join(dir, "geo_alert.log"),
		AllowedCountry: "US",
		Location:       loc,
	}
	alert := alerting.Alert{
		Principal: "alice@x.com",
		Country:   "FR",
		LocalTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).In(loc),
	}
	started := time.Date(2024, 1, 1, 13, 15, 0, 0, time.UTC)

	if err := trail.Append(started, []alerting.Alert{alert}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	logData, err := os.ReadFile(trail.LogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(logData), "[2024-01-01T08:15:00-05:00] ALERT:") {
		t.Fatalf("log = %q", logData)
	}
}
