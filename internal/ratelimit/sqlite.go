package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/store"
)

// SQLiteLimiter keeps counters in the rate_counters table, one row per
// (scope key, window start). Durable across restarts and shared by every
// process on the same database file.
type SQLiteLimiter struct {
	db  *store.DB
	now func() time.Time
}

// NewSQLiteLimiter returns a limiter backed by the main store.
func NewSQLiteLimiter(db *store.DB) *SQLiteLimiter {
	return &SQLiteLimiter{db: db, now: time.Now}
}

// CheckAndIncrement implements Limiter. One transaction covers the reads
// and both conditional increments; the immediate write lock keeps a
// concurrent caller from sliding in between them.
func (l *SQLiteLimiter) CheckAndIncrement(ctx context.Context, orgID, userID string, limits auth.PlanLimits) (Result, error) {
	now := l.now()
	win := windowStart(now).Unix()

	var res Result
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		orgCount, err := currentCount(ctx, tx, orgKey(orgID), win)
		if err != nil {
			return err
		}
		userCount, err := currentCount(ctx, tx, userKey(userID), win)
		if err != nil {
			return err
		}

		if exceeded(orgCount, limits.OrgPerMinute) || exceeded(userCount, limits.UserPerMinute) {
			res = Result{
				Allowed:    false,
				RetryAfter: untilRollover(now),
				OrgCount:   orgCount,
				UserCount:  userCount,
			}
			return nil
		}

		if err := increment(ctx, tx, orgKey(orgID), win); err != nil {
			return err
		}
		if err := increment(ctx, tx, userKey(userID), win); err != nil {
			return err
		}
		res = Result{Allowed: true, OrgCount: orgCount + 1, UserCount: userCount + 1}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	return res, nil
}

func currentCount(ctx context.Context, tx *sql.Tx, scopeKey string, win int64) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT request_count FROM rate_counters WHERE scope_key = ? AND window_start = ?`,
		scopeKey, win,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", scopeKey, err)
	}
	return count, nil
}

func increment(ctx context.Context, tx *sql.Tx, scopeKey string, win int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rate_counters (scope_key, window_start, request_count)
		 VALUES (?, ?, 1)
		 ON CONFLICT (scope_key, window_start)
		 DO UPDATE SET request_count = request_count + 1`,
		scopeKey, win,
	)
	if err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", scopeKey, err)
	}
	return nil
}

// SweepExpired deletes counter rows for windows that closed before the
// previous minute. Old rows are never read again; this only bounds table
// growth. Returns the number of rows removed.
func (l *SQLiteLimiter) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := windowStart(l.now()).Add(-time.Minute).Unix()
	out, err := l.db.Conn().ExecContext(ctx,
		`DELETE FROM rate_counters WHERE window_start < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep rate counters: %w", err)
	}
	return out.RowsAffected()
}

var _ Limiter = (*SQLiteLimiter)(nil)
