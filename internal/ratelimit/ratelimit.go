// Package ratelimit enforces per-org and per-user requests-per-minute
// ceilings over fixed UTC-minute windows.
//
// DESIGN: the check and both increments form one atomic unit per backend
// (mutex section, single SQLite transaction, or one Redis Lua script). A
// blocked caller is never charged: neither counter moves unless both scopes
// are under their ceilings.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/store"
)

// Result reports one rate-limit decision. Counts are the post-increment
// values when allowed, and the untouched current values when blocked.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	OrgCount   int
	UserCount  int
}

// Limiter checks and charges both the org and user counters for the
// current window. A ceiling <= 0 leaves that scope unlimited.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, orgID, userID string, limits auth.PlanLimits) (Result, error)
}

// New selects a backend from configuration. The SQLite backend shares the
// main store; redis connects and pings before returning.
func New(ctx context.Context, cfg *config.Config, db *store.DB) (Limiter, error) {
	switch cfg.RateLimit.Backend {
	case config.BackendMemory:
		return NewMemoryLimiter(), nil
	case config.BackendSQLite:
		return NewSQLiteLimiter(db), nil
	case config.BackendRedis:
		return NewRedisLimiter(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// windowStart returns the UTC minute bucket containing t.
func windowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// untilRollover returns the time remaining until the next window opens.
// Never more than one minute.
func untilRollover(t time.Time) time.Duration {
	return windowStart(t).Add(time.Minute).Sub(t)
}

// exceeded reports whether count has reached a positive ceiling.
func exceeded(count, ceiling int) bool {
	return ceiling > 0 && count >= ceiling
}

func orgKey(orgID string) string {
	return "org:" + orgID
}

func userKey(userID string) string {
	return "user:" + userID
}
