package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"ratelimiter/internal/models"

	"github.com/gorilla/mux"
)

// adminTokenMiddleware guards the operator endpoints with the configured
// bearer token. An empty token rejects every request.
func adminTokenMiddleware(token string) mux.MiddlewareFunc {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "Authorization required")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeUnauthorized(w, "Invalid authorization format")
				return
			}

			presented := []byte(authHeader[len(prefix):])
			if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
				slog.Warn("Rejected admin request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeUnauthorized(w, "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse(message, models.ErrorCodeUnauthorized), slog.Default())
}
