package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit sink delivery.
type Metrics struct {
	Delivered prometheus.Counter
	Failures  prometheus.Counter
	Dropped   prometheus.Counter
}

// NewMetrics registers the publisher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_audit_sink_delivered_total",
			Help: "Total number of audit entries delivered to secondary sinks",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_audit_sink_failures_total",
			Help: "Total number of audit sink delivery failures",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_audit_sink_dropped_total",
			Help: "Total number of audit entries dropped because the buffer was full",
		}),
	}
}

// IncDelivered increments the delivered counter.
func (m *Metrics) IncDelivered() {
	m.Delivered.Inc()
}

// IncFailures increments the failure counter.
func (m *Metrics) IncFailures() {
	m.Failures.Inc()
}

// IncDropped increments the dropped counter.
func (m *Metrics) IncDropped() {
	m.Dropped.Inc()
}
