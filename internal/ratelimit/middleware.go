package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// MiddlewareConfig controls how requests reach the limiter.
type MiddlewareConfig struct {
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool

	// ExposeHeaders attaches X-RateLimit-* headers to every limited response.
	ExposeHeaders bool

	// ExemptPaths are served without a check. A trailing "*" matches a prefix.
	ExemptPaths []string

	Logger *slog.Logger
}

// Middleware returns HTTP middleware that enforces limiter on every request
// not exempted by cfg.
func Middleware(limiter *Limiter, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	policy := ResponsePolicy{ExposeHeaders: cfg.ExposeHeaders}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, cfg.ExemptPaths) {
				next.ServeHTTP(w, r)
				return
			}

			desc := FromHTTPRequest(r, cfg.TrustProxyHeaders)
			decision := limiter.Check(r.Context(), desc)
			outcome := policy.ToOutcome(decision)

			for name, values := range outcome.Headers {
				for _, v := range values {
					w.Header().Add(name, v)
				}
			}

			if outcome.Allowed() {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(outcome.StatusCode)
			if err := json.NewEncoder(w).Encode(outcome.Body); err != nil {
				logger.Error("Failed to encode rate limit response", "error", err)
			}

			logger.Warn("Rate limit exceeded",
				"key", decision.Key,
				"limit", decision.Limit,
				"retry_after", outcome.Body.RetryAfter,
				"degraded", decision.Degraded,
				"request_id", outcome.Body.RequestID,
			)
		})
	}
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}
