package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/agentlane/execution-gateway/internal/auth"
)

// MemoryLimiter counts requests in process memory. Counters reset when the
// window rolls over, so the map never outlives one minute of traffic.
// Suitable for single-instance deployments and tests.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Time
	counts map[string]int
	now    func() time.Time
}

// NewMemoryLimiter returns an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// CheckAndIncrement implements Limiter. The whole decision runs under one
// mutex hold, so concurrent callers cannot slip past the ceiling between
// the check and the increments.
func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, orgID, userID string, limits auth.PlanLimits) (Result, error) {
	now := l.now()
	win := windowStart(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !win.Equal(l.window) {
		l.window = win
		l.counts = make(map[string]int)
	}

	ok := orgKey(orgID)
	uk := userKey(userID)
	orgCount := l.counts[ok]
	userCount := l.counts[uk]

	if exceeded(orgCount, limits.OrgPerMinute) || exceeded(userCount, limits.UserPerMinute) {
		return Result{
			Allowed:    false,
			RetryAfter: untilRollover(now),
			OrgCount:   orgCount,
			UserCount:  userCount,
		}, nil
	}

	l.counts[ok] = orgCount + 1
	l.counts[uk] = userCount + 1
	return Result{Allowed: true, OrgCount: orgCount + 1, UserCount: userCount + 1}, nil
}

var _ Limiter = (*MemoryLimiter)(nil)
