package refresh

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run status label values.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusSkipped = "skipped"
	statusPaused  = "paused"
)

// Metrics records refresh activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	inFlight    *prometheus.GaugeVec
	lockRenew   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics creates the refresh collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_refresh_runs_total",
			Help: "Refresh runs by task and outcome; skipped means another instance held the lock, paused means the task is backing off after repeated failures",
		}, []string{"task", "status"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tabular_refresh_inflight",
			Help: "Refresh runs currently executing",
		}, []string{"task"}),
		lockRenew: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabular_refresh_lock_renew_total",
			Help: "Destination lock renewals during long refresh runs",
		}, []string{"task", "status"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tabular_refresh_last_success_timestamp_seconds",
			Help: "Unix time of the last successful refresh per task",
		}, []string{"task"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.inFlight, m.lockRenew, m.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordRun(task, status string, at time.Time) {
	if m == nil {
		return
	}
	task = normalizeLabel(task)
	m.runs.WithLabelValues(task, normalizeLabel(status)).Inc()
	if status == statusOK {
		m.lastSuccess.WithLabelValues(task).Set(float64(at.Unix()))
	}
}

func (m *Metrics) incInFlight(task string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(normalizeLabel(task)).Inc()
}

func (m *Metrics) decInFlight(task string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(normalizeLabel(task)).Dec()
}

func (m *Metrics) recordLockRenew(task, status string) {
	if m == nil {
		return
	}
	m.lockRenew.WithLabelValues(normalizeLabel(task), normalizeLabel(status)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
