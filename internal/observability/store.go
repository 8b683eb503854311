package observability

import (
	"context"
	"errors"
	"time"

	"ratelimiter/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a storage.CounterStore with OpenTelemetry spans,
// an operation latency histogram and an error counter.
type InstrumentedStore struct {
	inner    storage.CounterStore
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// instrumentedAtomicStore keeps the storage.AtomicStore capability of the
// wrapped store visible to the limiter.
type instrumentedAtomicStore struct {
	*InstrumentedStore
	atomic storage.AtomicStore
}

// InstrumentStore wraps inner. backend names the store type in span and
// metric attributes. The result implements storage.AtomicStore exactly when
// inner does.
func InstrumentStore(inner storage.CounterStore, backend string) (storage.CounterStore, error) {
	s, err := newInstrumentedStore(inner, backend)
	if err != nil {
		return nil, err
	}
	if a, ok := inner.(storage.AtomicStore); ok {
		return &instrumentedAtomicStore{InstrumentedStore: s, atomic: a}, nil
	}
	return s, nil
}

func newInstrumentedStore(inner storage.CounterStore, backend string) (*InstrumentedStore, error) {
	meter := otel.Meter(instrumentationName + "/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   otel.Tracer(instrumentationName + "/storage"),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", s.backend),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, elapsed, attrs)

	// A missing key is an answer, not a failure.
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (storage.CounterEntry, error) {
	ctx, span := s.startSpan(ctx, "Get")
	start := time.Now()
	entry, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return entry, err
}

func (s *InstrumentedStore) SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error {
	ctx, span := s.startSpan(ctx, "SetOrReset", attribute.Int("count", count))
	start := time.Now()
	err := s.inner.SetOrReset(ctx, key, count, windowResetAt)
	s.record(ctx, span, "SetOrReset", start, err)
	return err
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string) (int, error) {
	ctx, span := s.startSpan(ctx, "Increment")
	start := time.Now()
	n, err := s.inner.Increment(ctx, key)
	s.record(ctx, span, "Increment", start, err)
	return n, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Delete")
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.record(ctx, span, "Delete", start, err)
	return err
}

func (s *InstrumentedStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "Sweep")
	start := time.Now()
	removed, err := s.inner.Sweep(ctx, now)
	span.SetAttributes(attribute.Int("removed", removed))
	s.record(ctx, span, "Sweep", start, err)
	return removed, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

func (s *instrumentedAtomicStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (storage.HitResult, error) {
	ctx, span := s.startSpan(ctx, "Hit", attribute.Int("limit", limit))
	start := time.Now()
	res, err := s.atomic.Hit(ctx, key, now, window, limit)
	span.SetAttributes(attribute.Bool("allowed", res.Allowed))
	s.record(ctx, span, "Hit", start, err)
	return res, err
}
