package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ratelimiter/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	key             TEXT PRIMARY KEY,
	count           INTEGER NOT NULL,
	window_reset_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_reset ON rate_limit_counters (window_reset_at);
`

// SQLiteStore keeps counters in a local SQLite file. Reset times are stored
// as unix milliseconds. A single connection serializes all statements.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and creates the counters table.
func NewSQLiteStore(ctx context.Context, config models.DatabaseConfig) (*SQLiteStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite store")
	}

	db, err := sql.Open("sqlite", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (ss *SQLiteStore) Get(ctx context.Context, key string) (CounterEntry, error) {
	var (
		count   int
		resetMs int64
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT count, window_reset_at FROM rate_limit_counters WHERE key = ?`, key,
	).Scan(&count, &resetMs)
	if err != nil {
		return CounterEntry{}, wrapSQLErr(err)
	}
	return CounterEntry{Count: count, WindowResetAt: fromUnixMilli(resetMs)}, nil
}

func (ss *SQLiteStore) SetOrReset(ctx context.Context, key string, count int, windowResetAt time.Time) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO rate_limit_counters (key, count, window_reset_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET count = excluded.count, window_reset_at = excluded.window_reset_at`,
		key, count, toUnixMilli(windowResetAt))
	return wrapSQLErr(err)
}

func (ss *SQLiteStore) Increment(ctx context.Context, key string) (int, error) {
	var count int
	err := ss.db.QueryRowContext(ctx,
		`UPDATE rate_limit_counters SET count = count + 1 WHERE key = ? RETURNING count`, key,
	).Scan(&count)
	if err != nil {
		return 0, wrapSQLErr(err)
	}
	return count, nil
}

func (ss *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := ss.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE key = ?`, key)
	return wrapSQLErr(err)
}

func (ss *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := ss.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE window_reset_at < ?`, toUnixMilli(now))
	if err != nil {
		return 0, wrapSQLErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapSQLErr(err)
	}
	return int(n), nil
}

func (ss *SQLiteStore) Ping(ctx context.Context) error {
	return wrapSQLErr(ss.db.PingContext(ctx))
}

// Close closes the database handle.
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func wrapSQLErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, sql.ErrConnDone):
		return ErrClosed
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
