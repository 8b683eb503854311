package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCounterStore runs the behaviour every CounterStore must share.
func testCounterStore(t *testing.T, store CounterStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond).UTC()
	prefix := fmt.Sprintf("test-%d-", time.Now().UnixNano())

	t.Run("Get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetOrReset then Get", func(t *testing.T) {
		key := prefix + "set"
		resetAt := base.Add(time.Minute)
		require.NoError(t, store.SetOrReset(ctx, key, 1, resetAt))

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, entry.Count)
		assert.True(t, entry.WindowResetAt.Equal(resetAt), "reset time %v != %v", entry.WindowResetAt, resetAt)
	})

	t.Run("SetOrReset replaces existing entry", func(t *testing.T) {
		key := prefix + "replace"
		require.NoError(t, store.SetOrReset(ctx, key, 5, base.Add(time.Second)))
		require.NoError(t, store.SetOrReset(ctx, key, 1, base.Add(time.Minute)))

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, entry.Count)
		assert.True(t, entry.WindowResetAt.Equal(base.Add(time.Minute)))
	})

	t.Run("Increment existing key", func(t *testing.T) {
		key := prefix + "incr"
		resetAt := base.Add(time.Minute)
		require.NoError(t, store.SetOrReset(ctx, key, 1, resetAt))

		n, err := store.Increment(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.Increment(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, entry.Count)
		assert.True(t, entry.WindowResetAt.Equal(resetAt), "increment must not move the window")
	})

	t.Run("Increment missing key", func(t *testing.T) {
		_, err := store.Increment(ctx, prefix+"incr-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		key := prefix + "delete"
		require.NoError(t, store.SetOrReset(ctx, key, 1, base.Add(time.Minute)))
		require.NoError(t, store.Delete(ctx, key))

		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")
	})

	t.Run("Concurrent increments are not lost", func(t *testing.T) {
		key := prefix + "concurrent"
		require.NoError(t, store.SetOrReset(ctx, key, 0, base.Add(time.Minute)))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Increment(ctx, key)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, workers, entry.Count)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

// testSweep checks that only entries whose window ended strictly before now
// are removed.
func testSweep(t *testing.T, store CounterStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()
	prefix := fmt.Sprintf("sweep-%d-", time.Now().UnixNano())

	require.NoError(t, store.SetOrReset(ctx, prefix+"old", 3, now.Add(-time.Second)))
	require.NoError(t, store.SetOrReset(ctx, prefix+"boundary", 3, now))
	require.NoError(t, store.SetOrReset(ctx, prefix+"live", 1, now.Add(time.Minute)))

	removed, err := store.Sweep(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	_, err = store.Get(ctx, prefix+"old")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, prefix+"boundary")
	assert.NoError(t, err, "an entry resetting exactly at now is not swept")

	entry, err := store.Get(ctx, prefix+"live")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)
}

// testAtomicStore walks one key through the fixed-window scenario with a
// budget of 3 per minute.
func testAtomicStore(t *testing.T, store AtomicStore) {
	t.Helper()
	ctx := context.Background()
	key := fmt.Sprintf("hit-%d", time.Now().UnixNano())
	window := time.Minute
	t0 := time.Now().Truncate(time.Millisecond).UTC()

	for i := 1; i <= 3; i++ {
		res, err := store.Hit(ctx, key, t0.Add(time.Duration(i-1)*time.Second), window, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d should be allowed", i)
		assert.Equal(t, i, res.Count)
		assert.True(t, res.WindowResetAt.Equal(t0.Add(window)))
	}

	res, err := store.Hit(ctx, key, t0.Add(3*time.Second), window, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Count, "a denied hit does not increment")

	res, err = store.Hit(ctx, key, t0.Add(window), window, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a hit at the reset instant opens a new window")
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.WindowResetAt.Equal(t0.Add(2*window)))

	t.Run("sub-millisecond start reports one reset time", func(t *testing.T) {
		key := fmt.Sprintf("hit-precise-%d", time.Now().UnixNano())
		start := t0.Add(400 * time.Microsecond)
		want := WindowEnd(start, window)

		first, err := store.Hit(ctx, key, start, window, 3)
		require.NoError(t, err)
		second, err := store.Hit(ctx, key, start.Add(time.Second), window, 3)
		require.NoError(t, err)

		assert.True(t, first.WindowResetAt.Equal(want), "first reset %v", first.WindowResetAt)
		assert.True(t, second.WindowResetAt.Equal(want), "second reset %v", second.WindowResetAt)
	})

	t.Run("concurrent hits never exceed the limit", func(t *testing.T) {
		key := fmt.Sprintf("hit-concurrent-%d", time.Now().UnixNano())
		now := time.Now().UTC()

		const workers = 25
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Hit(ctx, key, now, window, 10)
				if !assert.NoError(t, err) {
					return
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, allowed)
	})
}
