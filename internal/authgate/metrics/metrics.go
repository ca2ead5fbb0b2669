package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Attempts      *prometheus.CounterVec
	CacheHits     prometheus.Counter
	Lockouts      prometheus.Counter
	PromptWait    prometheus.Histogram
	Relocks       *prometheus.CounterVec
	FailedCounter prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_authgate_attempts_total",
			Help: "Authentication attempts by method and result",
		}, []string{"method", "result"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_authgate_cached_successes_total",
			Help: "Authentications satisfied by a recent success without prompting",
		}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_authgate_lockouts_total",
			Help: "Times the failed-attempt threshold armed a lockout",
		}),
		PromptWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustkit_authgate_prompt_wait_seconds",
			Help:    "Time callers spent queued behind an in-flight prompt",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 7),
		}),
		Relocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_authgate_relocks_total",
			Help: "Sessions invalidated, by reason",
		}, []string{"reason"}),
		FailedCounter: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustkit_authgate_failed_attempts",
			Help: "Current consecutive failed attempts",
		}),
	}
}

func (m *Metrics) IncAttempt(method, result string) {
	m.Attempts.WithLabelValues(method, result).Inc()
}

func (m *Metrics) IncCacheHit() {
	m.CacheHits.Inc()
}

func (m *Metrics) IncLockout() {
	m.Lockouts.Inc()
}

func (m *Metrics) ObservePromptWait(seconds float64) {
	m.PromptWait.Observe(seconds)
}

func (m *Metrics) IncRelock(reason string) {
	m.Relocks.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetFailedAttempts(n int) {
	m.FailedCounter.Set(float64(n))
}
