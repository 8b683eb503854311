// Package storage holds the per-key counters behind the rate limiter and the
// backends that persist them (in-process memory, Redis, PostgreSQL, SQLite).
package storage

import (
	"context"
	"time"
)

// CounterEntry is the state of one bucket key within its current window.
type CounterEntry struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// Expired reports whether the window has ended at now. An entry is expired
// once now reaches WindowResetAt.
func (e CounterEntry) Expired(now time.Time) bool {
	return !now.Before(e.WindowResetAt)
}

// WindowEnd returns the reset time of a window starting at now. It is rounded
// up to the millisecond, the coarsest precision any backend keeps, so every
// decision of one window reports the same reset time and the window never
// ends early.
func WindowEnd(now time.Time, window time.Duration) time.Time {
	end := now.Add(window)
	if t := end.Truncate(time.Millisecond); !t.Equal(end) {
		return t.Add(time.Millisecond)
	}
	return end
}

// CounterStore defines the contract for holding per-key fixed-window
// counters. The store exclusively owns every CounterEntry; callers observe
// copies.
//
// Implementations must be safe for concurrent use. A single call is atomic
// for its key, but a Get followed by Increment is not; callers that need a
// read-modify-write unit serialize per key themselves or use AtomicStore.
type CounterStore interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (CounterEntry, error)

	// SetOrReset stores count and windowResetAt for key, replacing any
	// previous entry.
	SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error

	// Increment adds one to an existing entry and returns the new count.
	// It returns ErrNotFound when key has no entry.
	Increment(ctx context.Context, key string) (int, error)

	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Sweep removes every entry whose WindowResetAt is before now and returns
	// how many were removed. It exists for memory hygiene only.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and other resources.
	Close() error
}

// HitResult is the outcome of one fixed-window step performed by the store.
type HitResult struct {
	Allowed       bool
	Count         int
	WindowResetAt time.Time
}

// AtomicStore is implemented by backends that can run the whole fixed-window
// step (expire, compare with limit, increment) as one operation on their side.
// Those are the only backends that stay correct when several processes share
// them.
type AtomicStore interface {
	CounterStore

	// Hit records one request for key at now. A missing or expired entry
	// starts a new window ending at WindowEnd(now, window) with count 1. An
	// entry at limit is left untouched and the hit is reported as not allowed.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (HitResult, error)
}
