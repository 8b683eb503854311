package observability

import (
	"context"
	"errors"

	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LimiterMetrics records limiter decisions as OpenTelemetry counters. Bucket
// keys are never used as attributes.
type LimiterMetrics struct {
	decisions   metric.Int64Counter
	storeErrors metric.Int64Counter
	swept       metric.Int64Counter
}

var _ ratelimit.Recorder = (*LimiterMetrics)(nil)

// NewLimiterMetrics creates the limiter instruments on the global meter provider.
func NewLimiterMetrics() (*LimiterMetrics, error) {
	meter := otel.Meter(instrumentationName + "/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	storeErrors, err := meter.Int64Counter(
		"ratelimit.store.errors",
		metric.WithDescription("Counter store failures resolved by the failure policy"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	swept, err := meter.Int64Counter(
		"ratelimit.sweep.removed",
		metric.WithDescription("Expired counters removed by sweeps"),
		metric.WithUnit("{counter}"),
	)
	if err != nil {
		return nil, err
	}

	return &LimiterMetrics{
		decisions:   decisions,
		storeErrors: storeErrors,
		swept:       swept,
	}, nil
}

func (m *LimiterMetrics) RecordDecision(ctx context.Context, d ratelimit.Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("degraded", d.Degraded),
	))
}

func (m *LimiterMetrics) RecordStoreError(ctx context.Context, err error) {
	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, storage.ErrUnavailable):
		reason = "unavailable"
	case errors.Is(err, storage.ErrClosed):
		reason = "closed"
	}
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *LimiterMetrics) RecordSweep(ctx context.Context, removed int) {
	if removed > 0 {
		m.swept.Add(ctx, int64(removed))
	}
}
