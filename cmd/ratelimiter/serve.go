package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ratelimiter/internal/api"
	"ratelimiter/internal/config"
	"ratelimiter/internal/logger"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/storage"
	"ratelimiter/internal/version"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *models.Config) error {
	ver := version.GetInfo()

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	store, err := storage.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize counter store: %w", err)
	}
	defer store.Close()
	slog.Info("Counter store ready", "type", cfg.Store.Type)

	var activeStore storage.CounterStore = store
	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.InstrumentStore(store, cfg.Store.Type)
		if err != nil {
			return fmt.Errorf("failed to instrument counter store: %w", err)
		}
		activeStore = instrumented
	}

	limiter, err := newLimiter(activeStore, cfg)
	if err != nil {
		return err
	}
	defer limiter.Close()

	handlers := api.NewHandlers(limiter,
		api.WithStore(activeStore),
		api.WithTrustProxyHeaders(cfg.RateLimit.TrustProxyHeaders),
		api.WithVersion(ver),
		api.WithLogger(logger.Component(log, "api")),
	)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.RateLimit.Enabled {
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, ratelimit.MiddlewareConfig{
			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
			ExposeHeaders:     cfg.RateLimit.ExposeHeaders,
			ExemptPaths:       cfg.RateLimit.ExemptPaths,
			Logger:            logger.Component(log, "ratelimit"),
		})))
	} else {
		slog.Warn("Rate limiting is disabled")
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"tls", cfg.Server.TLSEnabled,
			"window", cfg.RateLimit.Window,
			"max_requests", cfg.RateLimit.MaxRequests,
			"failure_policy", cfg.RateLimit.FailurePolicy)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// newLimiter builds the limiter from the rate_limit section, recording its
// decisions when metrics are enabled.
func newLimiter(store storage.CounterStore, cfg *models.Config) (*ratelimit.Limiter, error) {
	rlCfg, err := ratelimit.FromModel(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	opts := []ratelimit.Option{
		ratelimit.WithLogger(logger.Component(slog.Default(), "ratelimit")),
	}
	if cfg.Metrics.Enabled {
		recorder, err := observability.NewLimiterMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create limiter metrics: %w", err)
		}
		opts = append(opts, ratelimit.WithMetrics(recorder))
	}

	return ratelimit.New(store, rlCfg, opts...)
}
