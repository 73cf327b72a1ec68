package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
	"github.com/iayvob/Ads-Analytics-V2/internal/metrics"
	"github.com/iayvob/Ads-Analytics-V2/internal/ratelimit"
)

// RateLimit rejects clients over their limit with 429.
//
// The client key is the remote IP. Behind chi's RealIP middleware that is
// the X-Forwarded-For / X-Real-IP address.
//
// FAIL OPEN:
// If the limiter errors (Redis down), the request is let through and the
// error logged. A broken limiter must not lock every user out of login.
func RateLimit(limiter ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				m.RecordRateLimitRejection()
				logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
				apperror.WriteHTTP(w, apperror.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
