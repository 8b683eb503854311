package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

// incrementScript bumps the count only when the hash already exists so a
// counter that expired between calls is not resurrected without a reset time.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'count', 1)
`)

const (
	fieldCount   = "count"
	fieldResetAt = "reset_at_ms"
)

// RedisStore keeps counters in Redis hashes so several limiter processes can
// share one budget per key. Each hash expires at its window end, so Sweep has
// nothing to do.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	scriptSHA string
}

// NewRedisStore pings the server and loads the fixed-window script.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrapRedisErr(err)
	}

	sha, err := client.ScriptLoad(ctx, fixedWindowScript).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load fixed window script: %w", wrapRedisErr(err))
	}

	return &RedisStore{
		client:    client,
		prefix:    prefix,
		scriptSHA: sha,
	}, nil
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (CounterEntry, error) {
	vals, err := r.client.HMGet(ctx, r.key(key), fieldCount, fieldResetAt).Result()
	if err != nil {
		return CounterEntry{}, wrapRedisErr(err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return CounterEntry{}, ErrNotFound
	}

	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return CounterEntry{}, fmt.Errorf("invalid count for %s: %w", key, err)
	}
	resetMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return CounterEntry{}, fmt.Errorf("invalid reset time for %s: %w", key, err)
	}

	return CounterEntry{Count: count, WindowResetAt: fromUnixMilli(resetMs)}, nil
}

func (r *RedisStore) SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error {
	k := r.key(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fieldCount, count, fieldResetAt, toUnixMilli(windowResetAt))
		pipe.PExpireAt(ctx, k, windowResetAt)
		return nil
	})
	return wrapRedisErr(err)
}

func (r *RedisStore) Increment(ctx context.Context, key string) (int, error) {
	n, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}).Int()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return wrapRedisErr(r.client.Del(ctx, r.key(key)).Err())
}

// Sweep is a no-op; Redis drops each hash when its PEXPIREAT deadline passes.
func (r *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Hit runs the fixed-window step inside Redis.
func (r *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (HitResult, error) {
	keys := []string{r.key(key)}
	args := []interface{}{toUnixMilli(now), toUnixMilli(WindowEnd(now, window)), limit}

	result, err := r.client.EvalSha(ctx, r.scriptSHA, keys, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// Server restarted or flushed its script cache.
		result, err = r.client.Eval(ctx, fixedWindowScript, keys, args...).Result()
	}
	if err != nil {
		return HitResult{}, wrapRedisErr(err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return HitResult{}, errors.New("invalid fixed window script response")
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	resetMs, _ := values[2].(int64)

	return HitResult{
		Allowed:       allowed == 1,
		Count:         int(count),
		WindowResetAt: fromUnixMilli(resetMs),
	}, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return wrapRedisErr(r.client.Ping(ctx).Err())
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func wrapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
