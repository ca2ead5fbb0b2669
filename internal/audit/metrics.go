package audit

import (
	audit "trustkit/pkg/platform/audit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit log.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PersistFailures prometheus.Counter
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_audit_entries_recorded_total",
			Help: "Total number of audit entries recorded",
		}, []string{"operation", "outcome"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_audit_persist_failures_total",
			Help: "Total number of audit entries that failed to persist",
		}),
	}
}

func (m *Metrics) IncRecorded(op audit.Operation, outcome audit.Outcome) {
	m.Recorded.WithLabelValues(string(op), string(outcome)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}
