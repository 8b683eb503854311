package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratelimiter/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	key             TEXT PRIMARY KEY,
	count           INTEGER NOT NULL,
	window_reset_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_reset ON rate_limit_counters (window_reset_at);
`

// PostgresStore implements CounterStore and AtomicStore on a shared
// PostgreSQL table. Hit locks the row for the duration of its transaction, so
// concurrent limiter processes see a consistent count.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with the configured pool limits and creates the
// counters table when it does not exist.
func NewPostgresStore(ctx context.Context, config models.DatabaseConfig) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL store")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", wrapPgErr(err))
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (ps *PostgresStore) Get(ctx context.Context, key string) (CounterEntry, error) {
	var (
		count   int32
		resetAt pgtype.Timestamptz
	)
	err := ps.pool.QueryRow(ctx,
		`SELECT count, window_reset_at FROM rate_limit_counters WHERE key = $1`, key,
	).Scan(&count, &resetAt)
	if err != nil {
		return CounterEntry{}, wrapPgErr(err)
	}

	return CounterEntry{Count: int(count), WindowResetAt: pgTimestamptzToTime(resetAt)}, nil
}

func (ps *PostgresStore) SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO rate_limit_counters (key, count, window_reset_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET count = EXCLUDED.count, window_reset_at = EXCLUDED.window_reset_at`,
		key, int32(count), timeToPgTimestamptz(windowResetAt))
	return wrapPgErr(err)
}

func (ps *PostgresStore) Increment(ctx context.Context, key string) (int, error) {
	var count int32
	err := ps.pool.QueryRow(ctx,
		`UPDATE rate_limit_counters SET count = count + 1 WHERE key = $1 RETURNING count`, key,
	).Scan(&count)
	if err != nil {
		return 0, wrapPgErr(err)
	}
	return int(count), nil
}

func (ps *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := ps.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE key = $1`, key)
	return wrapPgErr(err)
}

func (ps *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := ps.pool.Exec(ctx,
		`DELETE FROM rate_limit_counters WHERE window_reset_at < $1`, timeToPgTimestamptz(now))
	if err != nil {
		return 0, wrapPgErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// Hit performs the fixed-window step in one transaction holding the row lock.
func (ps *PostgresStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (HitResult, error) {
	var result HitResult

	err := pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		// Make sure a row exists so FOR UPDATE has something to lock.
		if _, err := tx.Exec(ctx, `
			INSERT INTO rate_limit_counters (key, count, window_reset_at)
			VALUES ($1, 0, $2)
			ON CONFLICT (key) DO NOTHING`,
			key, timeToPgTimestamptz(now)); err != nil {
			return err
		}

		var (
			count   int32
			resetAt pgtype.Timestamptz
		)
		if err := tx.QueryRow(ctx,
			`SELECT count, window_reset_at FROM rate_limit_counters WHERE key = $1 FOR UPDATE`, key,
		).Scan(&count, &resetAt); err != nil {
			return err
		}

		entry := CounterEntry{Count: int(count), WindowResetAt: pgTimestamptzToTime(resetAt)}
		switch {
		case entry.Expired(now):
			entry = CounterEntry{Count: 1, WindowResetAt: WindowEnd(now, window)}
		case entry.Count >= limit:
			result = HitResult{Allowed: false, Count: entry.Count, WindowResetAt: entry.WindowResetAt}
			return nil
		default:
			entry.Count++
		}

		if _, err := tx.Exec(ctx,
			`UPDATE rate_limit_counters SET count = $2, window_reset_at = $3 WHERE key = $1`,
			key, int32(entry.Count), timeToPgTimestamptz(entry.WindowResetAt)); err != nil {
			return err
		}
		result = HitResult{Allowed: true, Count: entry.Count, WindowResetAt: entry.WindowResetAt}
		return nil
	})
	if err != nil {
		return HitResult{}, wrapPgErr(err)
	}
	return result, nil
}

// Ping verifies the database is reachable.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return wrapPgErr(ps.pool.Ping(ctx))
}

func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

func wrapPgErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
