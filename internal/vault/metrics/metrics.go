package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the vault.
type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	AuthDenied      prometheus.Counter
	ExpiredRemoved  prometheus.Counter
	MigrationFailed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_vault_operations_total",
			Help: "Vault operations by kind and result",
		}, []string{"operation", "result"}),
		OperationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustkit_vault_operation_duration_seconds",
			Help:    "Duration of vault operations including the backing store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"operation"}),
		AuthDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_vault_authentication_required_total",
			Help: "Reads of gated items refused because authentication was required",
		}),
		ExpiredRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_vault_expired_items_removed_total",
			Help: "Items removed by expiry sweeps",
		}),
		MigrationFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_vault_migration_failures_total",
			Help: "Keys that failed to migrate",
		}),
	}
}

// Observe records one operation. Call with time.Now() taken at the start.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationTime.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncAuthDenied() {
	m.AuthDenied.Inc()
}

func (m *Metrics) AddExpiredRemoved(n int) {
	m.ExpiredRemoved.Add(float64(n))
}

func (m *Metrics) IncMigrationFailed() {
	m.MigrationFailed.Inc()
}
