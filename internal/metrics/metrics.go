// Package metrics exposes Prometheus collectors for ingestion jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ingest"

const (
	MetricJobsTotal   = "jobs_total"
	MetricRowsTotal   = "rows_total"
	MetricJobDuration = "job_duration_seconds"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricJobsTotal,
				Help:      "Import jobs by dialect and terminal status.",
			},
			[]string{"dialect", "status"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricRowsTotal,
				Help:      "Validated rows written per target table.",
			},
			[]string{"target_table"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      MetricJobDuration,
				Help:      "Wall time of import jobs.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{m.jobs, m.rows, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveJob records one finished job. Dialect may be empty for jobs that
// failed before a dialect was resolved.
func (m *Metrics) ObserveJob(dialect, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if dialect == "" {
		dialect = "unknown"
	}
	m.jobs.WithLabelValues(dialect, status).Inc()
	m.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// AddRows counts rows committed into table.
func (m *Metrics) AddRows(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(table).Add(float64(n))
}
