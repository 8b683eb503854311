// Package ratelimit decides whether a request may proceed using a fixed-window
// counter per bucket key. The counters live in a storage.CounterStore; this
// package owns the decision, the failure policy on store errors, the mapping
// of decisions to HTTP responses and the HTTP middleware.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ratelimiter/internal/models"
	"ratelimiter/internal/storage"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// FailurePolicy decides the outcome of a check when the store fails.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = models.FailOpen
	FailClosed FailurePolicy = models.FailClosed
)

// DegradedRetryAfter is the retry hint sent with fail-closed denials, which
// have no window to point at.
const DegradedRetryAfter = time.Second

const lockStripes = 256

// Config is the immutable limiter configuration.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	KeyExtractor  KeyExtractor
	FailurePolicy FailurePolicy

	// SweepInterval of zero disables the background sweep; expired entries are
	// then only replaced by the next request for the same key.
	SweepInterval time.Duration

	// StoreTimeout bounds each store call. Zero means no limit beyond the
	// caller's context.
	StoreTimeout time.Duration
}

// Validate rejects configurations the limiter cannot run with.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return &ConfigError{Field: "window", Reason: "must be positive"}
	}
	if c.Window < time.Millisecond {
		return &ConfigError{Field: "window", Reason: "must be at least 1ms"}
	}
	if c.MaxRequests <= 0 {
		return &ConfigError{Field: "max_requests", Reason: "must be positive"}
	}
	switch c.FailurePolicy {
	case "", FailOpen, FailClosed:
	default:
		return &ConfigError{Field: "failure_policy", Reason: fmt.Sprintf("unknown policy %q", c.FailurePolicy)}
	}
	if c.SweepInterval < 0 {
		return &ConfigError{Field: "sweep_interval", Reason: "cannot be negative"}
	}
	if c.StoreTimeout < 0 {
		return &ConfigError{Field: "store_timeout", Reason: "cannot be negative"}
	}
	return nil
}

// FromModel converts the rate_limit configuration section.
func FromModel(m models.RateLimitConfig) (Config, error) {
	extractor, err := KeyExtractorFor(m.KeyStrategy)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Window:        m.Window,
		MaxRequests:   m.MaxRequests,
		KeyExtractor:  extractor,
		FailurePolicy: FailurePolicy(m.FailurePolicy),
		SweepInterval: m.SweepInterval,
		StoreTimeout:  m.StoreTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decision is the result of one check.
//
// An allowed decision carries the remaining budget; a denied decision carries
// how long until the window resets. Degraded marks decisions taken by the
// failure policy because the store could not be consulted.
type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Degraded   bool
}

// RetryAfterMs returns RetryAfter in whole milliseconds.
func (d Decision) RetryAfterMs() int64 {
	return d.RetryAfter.Milliseconds()
}

// BucketStatus is a read-only view of one key's current window.
type BucketStatus struct {
	Key       string
	Active    bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Recorder receives limiter events for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RecordDecision(ctx context.Context, d Decision)
	RecordStoreError(ctx context.Context, err error)
	RecordSweep(ctx context.Context, removed int)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(context.Context, Decision) {}
func (noopRecorder) RecordStoreError(context.Context, error)  {}
func (noopRecorder) RecordSweep(context.Context, int)         {}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(l *Limiter) { l.metrics = r }
}

// Limiter enforces a fixed-window budget per key.
//
// When the store implements storage.AtomicStore the whole window step runs in
// the store. Otherwise get, decide and write happen under a striped lock
// keyed by the bucket key, which makes the step atomic per key within this
// process.
type Limiter struct {
	store   storage.CounterStore
	atomic  storage.AtomicStore
	cfg     Config
	clock   Clock
	logger  *slog.Logger
	metrics Recorder

	locks [lockStripes]sync.Mutex

	unknownKeyLog rate.Sometimes
	storeErrLog   rate.Sometimes

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a limiter over store. It returns a *ConfigError when cfg is
// invalid. When cfg.SweepInterval is positive a background sweep starts; stop
// it with Close. The store stays owned by the caller.
func New(store storage.CounterStore, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyExtractor == nil {
		cfg.KeyExtractor = KeyByClientPath
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailOpen
	}

	l := &Limiter{
		store:         store,
		cfg:           cfg,
		clock:         SystemClock{},
		logger:        slog.Default(),
		metrics:       noopRecorder{},
		unknownKeyLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		storeErrLog:   rate.Sometimes{First: 3, Interval: 5 * time.Second},
		done:          make(chan struct{}),
	}
	if a, ok := store.(storage.AtomicStore); ok {
		l.atomic = a
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.SweepInterval > 0 {
		l.wg.Add(1)
		go l.sweepLoop()
	}

	return l, nil
}

// Limit returns the configured budget per window.
func (l *Limiter) Limit() int { return l.cfg.MaxRequests }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// FailurePolicy returns the policy applied when the store fails.
func (l *Limiter) FailurePolicy() FailurePolicy { return l.cfg.FailurePolicy }

// Check decides the request at the clock's current time.
func (l *Limiter) Check(ctx context.Context, desc RequestDescriptor) Decision {
	return l.CheckAt(ctx, desc, l.clock.Now())
}

// CheckAt decides the request as of now. It never returns an error: store
// failures are resolved by the failure policy.
func (l *Limiter) CheckAt(ctx context.Context, desc RequestDescriptor, now time.Time) Decision {
	key := l.extractKey(desc)

	d, err := l.decide(ctx, key, now)
	if err != nil {
		d = l.degrade(ctx, key, err)
	}

	l.metrics.RecordDecision(ctx, d)
	return d
}

func (l *Limiter) extractKey(desc RequestDescriptor) string {
	key, err := l.cfg.KeyExtractor(desc)
	if err == nil && key != "" {
		return key
	}
	if err == nil {
		err = ErrMalformedRequest
	}

	l.unknownKeyLog.Do(func() {
		l.logger.Warn("Falling back to shared rate limit bucket",
			"bucket", UnknownKey,
			"path", desc.Path,
			"error", err,
		)
	})
	return UnknownKey
}

func (l *Limiter) decide(ctx context.Context, key string, now time.Time) (Decision, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	if l.atomic != nil {
		res, err := l.atomic.Hit(ctx, key, now, l.cfg.Window, l.cfg.MaxRequests)
		if err != nil {
			return Decision{}, err
		}
		if !res.Allowed {
			return l.denied(key, now, res.WindowResetAt), nil
		}
		return l.allowed(key, res.Count, res.WindowResetAt), nil
	}

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	entry, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return l.startWindow(ctx, key, now)
	case err != nil:
		return Decision{}, err
	case entry.Expired(now):
		return l.startWindow(ctx, key, now)
	case entry.Count >= l.cfg.MaxRequests:
		return l.denied(key, now, entry.WindowResetAt), nil
	}

	count, err := l.store.Increment(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// Removed by a sweep in another process between Get and Increment.
		return l.startWindow(ctx, key, now)
	}
	if err != nil {
		return Decision{}, err
	}
	return l.allowed(key, count, entry.WindowResetAt), nil
}

func (l *Limiter) startWindow(ctx context.Context, key string, now time.Time) (Decision, error) {
	resetAt := storage.WindowEnd(now, l.cfg.Window)
	if err := l.store.SetOrReset(ctx, key, 1, resetAt); err != nil {
		return Decision{}, err
	}
	return l.allowed(key, 1, resetAt), nil
}

func (l *Limiter) allowed(key string, count int, resetAt time.Time) Decision {
	return Decision{
		Allowed:   true,
		Key:       key,
		Limit:     l.cfg.MaxRequests,
		Remaining: max(l.cfg.MaxRequests-count, 0),
		ResetAt:   resetAt,
	}
}

func (l *Limiter) denied(key string, now, resetAt time.Time) Decision {
	return Decision{
		Allowed:    false,
		Key:        key,
		Limit:      l.cfg.MaxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: max(resetAt.Sub(now), 0),
	}
}

// degrade applies the failure policy after a store error.
func (l *Limiter) degrade(ctx context.Context, key string, err error) Decision {
	l.metrics.RecordStoreError(ctx, err)
	l.storeErrLog.Do(func() {
		l.logger.Error("Rate limiter store failed",
			"key", key,
			"policy", string(l.cfg.FailurePolicy),
			"error", err,
		)
	})

	if l.cfg.FailurePolicy == FailClosed {
		return Decision{
			Allowed:    false,
			Key:        key,
			Limit:      l.cfg.MaxRequests,
			RetryAfter: DegradedRetryAfter,
			Degraded:   true,
		}
	}
	return Decision{
		Allowed:   true,
		Key:       key,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests,
		Degraded:  true,
	}
}

func (l *Limiter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, l.cfg.StoreTimeout)
	}
	return ctx, func() {}
}

func (l *Limiter) lockFor(key string) *sync.Mutex {
	return &l.locks[xxhash.Sum64String(key)%lockStripes]
}

// Status reports the current window of key without counting a request.
func (l *Limiter) Status(ctx context.Context, key string) (BucketStatus, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	status := BucketStatus{Key: key, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests}

	entry, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return BucketStatus{}, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}
	if entry.Expired(l.clock.Now()) {
		return status, nil
	}

	status.Active = true
	status.Count = entry.Count
	status.Remaining = max(l.cfg.MaxRequests-entry.Count, 0)
	status.ResetAt = entry.WindowResetAt
	return status, nil
}

// Reset clears key so its next request opens a fresh window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to reset bucket %s: %w", key, err)
	}
	return nil
}

// Sweep removes every entry whose window ended before now. The store call is
// bounded by StoreTimeout like any other.
//
// For stores without their own atomicity every lock stripe is held, taken in
// index order, so no check is between Get and its write while the sweep runs.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	if l.atomic == nil {
		for i := range l.locks {
			l.locks[i].Lock()
		}
		defer func() {
			for i := range l.locks {
				l.locks[i].Unlock()
			}
		}()
	}

	removed, err := l.store.Sweep(ctx, l.clock.Now())
	if err != nil {
		l.metrics.RecordStoreError(ctx, err)
		return 0, fmt.Errorf("failed to sweep counters: %w", err)
	}
	l.metrics.RecordSweep(ctx, removed)
	return removed, nil
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	// Cancelled by Close so a sweep stuck in the store does not hold it up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("Counter sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				l.logger.Debug("Swept expired counters", "removed", removed)
			}
		case <-l.done:
			return
		}
	}
}

// Close stops the background sweep. It does not close the store.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}
