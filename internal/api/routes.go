package api

import (
	"net/http"

	"ratelimiter/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type routeOptions struct {
	router  []mux.MiddlewareFunc
	limited []mux.MiddlewareFunc
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.router = append(o.router, otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter puts middleware in front of the rate-limited routes.
// Health and admin routes are never limited.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.limited = append(o.limited, middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var options routeOptions
	for _, opt := range opts {
		opt(&options)
	}

	// Bucket keys may hold an escaped slash, e.g. "10.0.0.1:%2Flogin".
	router := mux.NewRouter().UseEncodedPath()
	for _, mw := range options.router {
		router.Use(mw)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	limited := api.PathPrefix("").Subrouter()
	for _, mw := range options.limited {
		limited.Use(mw)
	}
	limited.HandleFunc("/ping", handlers.Ping).Methods("GET")
	limited.HandleFunc("/login", handlers.Login).Methods("POST")

	if config.Admin.Enabled {
		admin := api.PathPrefix("/admin/ratelimit").Subrouter()
		admin.Use(adminTokenMiddleware(config.Admin.Token))
		admin.HandleFunc("/sweep", handlers.SweepBuckets).Methods("POST")
		admin.HandleFunc("/{key:.+}", handlers.GetBucket).Methods("GET")
		admin.HandleFunc("/{key:.+}", handlers.ResetBucket).Methods("DELETE")
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}
