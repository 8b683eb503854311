package storage

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestUnixMilliRoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	in := time.Date(2024, 3, 1, 15, 0, 0, 123_456_789, loc)

	out := fromUnixMilli(toUnixMilli(in))

	assert.Equal(t, time.UTC, out.Location())
	assert.True(t, out.Equal(in.Truncate(time.Millisecond)))
}

func TestPgTimestamptz(t *testing.T) {
	in := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ts := timeToPgTimestamptz(in)
	assert.True(t, ts.Valid)
	assert.True(t, pgTimestamptzToTime(ts).Equal(in))

	assert.True(t, pgTimestamptzToTime(pgtype.Timestamptz{}).IsZero())
}

func TestWindowEnd(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"whole millisecond", start.Add(5 * time.Millisecond), start.Add(time.Minute + 5*time.Millisecond)},
		{"rounds up", start.Add(400 * time.Microsecond), start.Add(time.Minute + time.Millisecond)},
		{"just past a millisecond", start.Add(time.Millisecond + time.Nanosecond), start.Add(time.Minute + 2*time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindowEnd(tt.now, time.Minute)
			assert.True(t, got.Equal(tt.want), "got %s", got)
			// Survives the millisecond columns unchanged.
			assert.True(t, fromUnixMilli(toUnixMilli(got)).Equal(got))
		})
	}
}
