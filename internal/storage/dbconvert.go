package storage

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Reset times are kept as unix milliseconds in SQLite and Redis and as
// timestamptz in PostgreSQL. All of them are read back in UTC.

func toUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func pgTimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
