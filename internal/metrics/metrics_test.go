package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "decisions_total", Help: "h"}, []string{"outcome"})
	reg.MustRegister(c)
	c.WithLabelValues("emitted").Add(2)

	path := filepath.Join(t.TempDir(), "textfile", "geoalert.prom")
	if err := writeTextfile(path, reg); err != nil {
		t.Fatalf("writeTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `geoalert_decisions_total{outcome="emitted"} 2`) {
		t.Fatalf("textfile = %s", data)
	}
}

func TestWriteTextfile_EmptyPathIsNoop(t *testing.T) {
	t.Parallel()

	if err := writeTextfile("  ", prometheus.NewRegistry()); err != nil {
		t.Fatalf("writeTextfile() error = %v", err)
	}
}

func TestDecisionsCounter(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("suppressed"))
	DecisionsTotal.WithLabelValues("suppressed").Inc()
	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("suppressed")); got != before+1 {
		t.Fatalf("suppressed = %v, want %v", got, before+1)
	}
}
