package ratelimit

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/store"
)

func TestWindowMath(t *testing.T) {
	tests := []struct {
		name      string
		at        time.Time
		wantStart time.Time
		wantLeft  time.Duration
	}{
		{
			name:      "mid window",
			at:        time.Date(2026, 3, 5, 10, 17, 42, 500_000_000, time.UTC),
			wantStart: time.Date(2026, 3, 5, 10, 17, 0, 0, time.UTC),
			wantLeft:  17*time.Second + 500*time.Millisecond,
		},
		{
			name:      "on the boundary",
			at:        time.Date(2026, 3, 5, 10, 17, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 5, 10, 17, 0, 0, time.UTC),
			wantLeft:  time.Minute,
		},
		{
			name:      "non UTC zone normalized",
			at:        time.Date(2026, 3, 5, 5, 17, 30, 0, time.FixedZone("EST", -5*3600)),
			wantStart: time.Date(2026, 3, 5, 10, 17, 0, 0, time.UTC),
			wantLeft:  30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.wantStart.Equal(windowStart(tt.at)))
			assert.Equal(t, tt.wantLeft, untilRollover(tt.at))
		})
	}
}

func TestMemoryLimiterCeiling(t *testing.T) {
	l := NewMemoryLimiter()
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	limits := auth.PlanLimits{OrgPerMinute: 5, UserPerMinute: 5}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.OrgCount)
		assert.Equal(t, i, res.UserCount)
		assert.Zero(t, res.RetryAfter)
	}

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.OrgCount, "blocked call must not be charged")
	assert.Equal(t, 5, res.UserCount)
	assert.Equal(t, 30*time.Second, res.RetryAfter)
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestMemoryLimiterWindowRollover(t *testing.T) {
	l := NewMemoryLimiter()
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	limits := auth.PlanLimits{OrgPerMinute: 1, UserPerMinute: 1}
	ctx := context.Background()

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	at = at.Add(time.Minute)

	res, err = l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.OrgCount, "new window starts from zero")
}

func TestMemoryLimiterBlockedChargesNeitherScope(t *testing.T) {
	l := NewMemoryLimiter()
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	// Org ceiling trips first; the user counter must stay untouched even
	// though it is still under its own ceiling.
	limits := auth.PlanLimits{OrgPerMinute: 1, UserPerMinute: 10}
	ctx := context.Background()

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.CheckAndIncrement(ctx, "org-1", "user-2", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.OrgCount)
	assert.Equal(t, 0, res.UserCount)

	// user-2 was not charged by the blocked attempt.
	res, err = l.CheckAndIncrement(ctx, "org-2", "user-2", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.UserCount)
}

func TestMemoryLimiterUnlimited(t *testing.T) {
	l := NewMemoryLimiter()
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", auth.PlanLimits{})
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	l := NewMemoryLimiter()
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	limits := auth.PlanLimits{OrgPerMinute: 50, UserPerMinute: 50}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.CheckAndIncrement(context.Background(), "org-1", "user-1", limits)
			assert.NoError(t, err)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load(), "ceiling must hold exactly under contention")
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ratelimit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteLimiterCeiling(t *testing.T) {
	db := openTestStore(t)
	l := NewSQLiteLimiter(db)
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	limits := auth.PlanLimits{OrgPerMinute: 3, UserPerMinute: 5}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.OrgCount)
		assert.Equal(t, i, res.UserCount)
	}

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.OrgCount)
	assert.Equal(t, 3, res.UserCount)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	// A different org under the same limits is unaffected.
	res, err = l.CheckAndIncrement(ctx, "org-2", "user-9", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.OrgCount)
}

func TestSQLiteLimiterWindowRollover(t *testing.T) {
	db := openTestStore(t)
	l := NewSQLiteLimiter(db)
	at := time.Date(2026, 3, 5, 10, 17, 59, 0, time.UTC)
	l.now = func() time.Time { return at }

	limits := auth.PlanLimits{OrgPerMinute: 1, UserPerMinute: 1}
	ctx := context.Background()

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	at = at.Add(time.Second)

	res, err = l.CheckAndIncrement(ctx, "org-1", "user-1", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.OrgCount)
}

func TestSQLiteLimiterSweepExpired(t *testing.T) {
	db := openTestStore(t)
	l := NewSQLiteLimiter(db)
	at := time.Date(2026, 3, 5, 10, 17, 30, 0, time.UTC)
	l.now = func() time.Time { return at }

	ctx := context.Background()

	// One row three windows back, one in the previous window.
	stale := windowStart(at).Add(-3 * time.Minute).Unix()
	previous := windowStart(at).Add(-time.Minute).Unix()
	_, err := db.Conn().ExecContext(ctx,
		`INSERT INTO rate_counters (scope_key, window_start, request_count) VALUES (?, ?, 4), (?, ?, 2)`,
		"org:old", stale, "org:prev", previous)
	require.NoError(t, err)

	res, err := l.CheckAndIncrement(ctx, "org-1", "user-1", auth.PlanLimits{OrgPerMinute: 5, UserPerMinute: 5})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	removed, err := l.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var remaining int
	err = db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_counters`).Scan(&remaining)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining, "previous and current windows survive the sweep")
}
