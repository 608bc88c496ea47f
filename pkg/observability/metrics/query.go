package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query status label values.
const (
	StatusOK            = "ok"
	StatusArgumentError = "argument_error"
	StatusWrongType     = "wrong_type"
	StatusError         = "error"
)

// QueryMetrics records per-query counters. A nil *QueryMetrics is valid and records nothing.
type QueryMetrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	scanned  *prometheus.CounterVec
	returned *prometheus.CounterVec
	writes   *prometheus.CounterVec
}

// NewQueryMetrics creates the query collectors and registers them on reg.
func NewQueryMetrics(reg prometheus.Registerer) (*QueryMetrics, error) {
	m := &QueryMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_queries_total",
			Help: "Queries executed, by mode and outcome",
		}, []string{"mode", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabular_query_duration_seconds",
			Help:    "Query execution time from resolve to reply",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"mode"}),
		scanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_rows_scanned_total",
			Help: "Rows read from source collections",
		}, []string{"mode"}),
		returned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_rows_returned_total",
			Help: "Rows returned or stored after windowing, or rows counted by COUNT",
		}, []string{"mode"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_destination_writes_total",
			Help: "Destination overwrites performed by STORE",
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{m.queries, m.duration, m.scanned, m.returned, m.writes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveQuery counts one finished query and its latency.
func (m *QueryMetrics) ObserveQuery(mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(mode, status).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// AddRows adds the scanned and returned row counts of one query.
func (m *QueryMetrics) AddRows(mode string, scanned, returned int) {
	if m == nil {
		return
	}
	m.scanned.WithLabelValues(mode).Add(float64(scanned))
	m.returned.WithLabelValues(mode).Add(float64(returned))
}

// IncDestinationWrite counts one STORE overwrite.
func (m *QueryMetrics) IncDestinationWrite(mode string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(mode).Inc()
}
