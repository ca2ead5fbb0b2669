package httptransport

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"trustkit/pkg/platform/httputil"
	"trustkit/pkg/platform/middleware/metadata"
	"trustkit/pkg/platform/privacy"
)

const clientCacheSize = 1000

// RateLimiter keeps one token bucket per client IP. The least recently seen
// clients are evicted once the cache is full.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
	logger  *slog.Logger
}

func NewRateLimiter(perSecond float64, burst int, logger *slog.Logger) (*RateLimiter, error) {
	clients, err := lru.New[string, *rate.Limiter](clientCacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: clients,
		logger:  logger,
	}, nil
}

func (l *RateLimiter) limiterFor(client string) *rate.Limiter {
	if rl, ok := l.clients.Get(client); ok {
		return rl
	}
	rl := rate.NewLimiter(l.limit, l.burst)
	l.clients.Add(client, rl)
	return rl
}

// Middleware rejects requests over the client's budget with 429 and a
// Retry-After header.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := metadata.GetClientIP(r.Context())
		rl := l.limiterFor(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))

		if !rl.Allow() {
			retry := 1
			if l.limit > 0 {
				retry = int(math.Ceil(1 / float64(l.limit)))
			}
			l.logger.WarnContext(r.Context(), "admin API rate limit exceeded",
				"ip_prefix", privacy.AnonymizeIP(ip),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests from this address. Please try again later.",
				"retry_after": retry,
			})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(rl.Tokens())))
		next.ServeHTTP(w, r)
	})
}
