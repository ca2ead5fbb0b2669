package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Validations    *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Reports        prometheus.Counter
	OCSPRequests   *prometheus.CounterVec
	OCSPCacheHits  prometheus.Counter
	ActiveRotation prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_trust_validations_total",
			Help: "Connection validations by result",
		}, []string{"result"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_trust_failures_total",
			Help: "Trust failures by kind, including those report-only mode let through",
		}, []string{"kind"}),
		Reports: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_trust_failure_reports_total",
			Help: "Failures reported instead of blocked",
		}),
		OCSPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_trust_ocsp_requests_total",
			Help: "Out-of-band OCSP requests by result",
		}, []string{"result"}),
		OCSPCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_trust_ocsp_cache_hits_total",
			Help: "Revocation checks answered from cache",
		}),
		ActiveRotation: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustkit_trust_active_rotations",
			Help: "Hosts with a rotation grace period in force",
		}),
	}
}

func (m *Metrics) IncValidation(result string) {
	m.Validations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncReport() {
	m.Reports.Inc()
}

func (m *Metrics) IncOCSPRequest(result string) {
	m.OCSPRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) IncOCSPCacheHit() {
	m.OCSPCacheHits.Inc()
}

func (m *Metrics) SetActiveRotations(n int) {
	m.ActiveRotation.Set(float64(n))
}
