package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// PG is a PostgreSQL-backed limiter over the progress_throttle table.
type PG struct {
	pool   pgxQuerier
	window time.Duration
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool pgxQuerier, window time.Duration) *PG {
	return &PG{pool: pool, window: window}
}

// Allow claims the key for one window unless an unexpired claim exists.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const claim = `
INSERT INTO progress_throttle (key, expires_at)
VALUES ($1, now() + $2::interval)
ON CONFLICT (key) DO UPDATE
SET expires_at = EXCLUDED.expires_at
WHERE progress_throttle.expires_at <= now()
RETURNING expires_at`
	var until time.Time
	err := l.pool.QueryRow(ctx, claim, key, l.window).Scan(&until)
	switch {
	case err == nil:
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return false, 0, err
	}

	const remaining = `SELECT expires_at FROM progress_throttle WHERE key=$1`
	if err := l.pool.QueryRow(ctx, remaining, key).Scan(&until); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, l.window, nil
		}
		return false, 0, err
	}
	return false, time.Until(until), nil
}
