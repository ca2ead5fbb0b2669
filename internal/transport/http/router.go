package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustkit/internal/platform/metrics"
	"trustkit/pkg/platform/middleware/admin"
	"trustkit/pkg/platform/middleware/metadata"
	"trustkit/pkg/platform/middleware/request"
)

// RouterConfig tunes the admin router.
type RouterConfig struct {
	AdminToken        string
	TrustProxyHeaders bool
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// NewRouter wires the admin API. /healthz and /metrics are open; everything
// else is rate limited per client and then needs the admin token, so failed
// token guesses spend the same budget as authorized calls.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, httpMetrics *metrics.Metrics, cfg RouterConfig, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limiter, err := NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.Context)
	r.Use(metadata.ClientMetadata(cfg.TrustProxyHeaders))
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}
	r.Use(chimw.Timeout(cfg.Timeout))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(admin.RequireAdminToken(cfg.AdminToken, logger))

		r.Get("/audit", h.handleAudit)
		r.Route("/vault", func(r chi.Router) {
			r.Get("/report", h.handleVaultReport)
			r.Get("/duplicates", h.handleVaultDuplicates)
			r.Post("/sweep", h.handleVaultSweep)
		})
		r.Route("/trust", func(r chi.Router) {
			r.Get("/pins", h.handleTrustPins)
			r.Get("/reports", h.handleTrustReports)
		})
		r.Get("/auth/status", h.handleAuthStatus)
	})
	return r, nil
}
