package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveJob("settlement", "success", 2*time.Second)
	m.ObserveJob("settlement", "success", time.Second)
	m.ObserveJob("", "validation_error", time.Millisecond)

	if got := testutil.ToFloat64(m.jobs.WithLabelValues("settlement", "success")); got != 2 {
		t.Errorf("jobs{settlement,success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("unknown", "validation_error")); got != 1 {
		t.Errorf("jobs{unknown,validation_error} = %v, want 1", got)
	}
}

func TestAddRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.AddRows("settlement_raw", 10)
	m.AddRows("settlement_raw", 0)
	m.AddRows("settlement_raw", 5)

	want := `
# HELP ingest_rows_total Validated rows written per target table.
# TYPE ingest_rows_total counter
ingest_rows_total{target_table="settlement_raw"} 15
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "ingest_rows_total"); err != nil {
		t.Error(err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveJob("x", "success", time.Second)
	m.AddRows("t", 1)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on same registry succeeded, want error")
	}
}
