package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zkpauth/pkg/platform/httputil"
	"zkpauth/pkg/requestcontext"
)

type Metrics struct {
	Rejected prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Rejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "zkpauth_ratelimit_rejected_total",
			Help: "Authentication requests rejected by the per-client rate limit",
		}),
	}
}

func (m *Metrics) incRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// PerClient rejects requests from a client IP once it exceeds w's limit. The client
// IP is read from the request context.
func PerClient(w *Window, logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result := w.Allow(ip)

			rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			rw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			rw.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retry := int(math.Ceil(result.RetryAfter.Seconds()))
				metrics.incRejected()
				logger.WarnContext(ctx, "authentication rate limit exceeded",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				rw.Header().Set("Retry-After", strconv.Itoa(retry))
				httputil.WriteJSON(rw, http.StatusTooManyRequests, exceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many authentication attempts. Please try again later.",
					RetryAfter: retry,
				})
				return
			}
			next.ServeHTTP(rw, r)
		})
	}
}
