package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/config"
)

// checkAndIncrLua reads both counters, refuses if either scope has reached
// its ceiling, and otherwise increments both. One script execution, so the
// decision is atomic across gateway instances. A ceiling <= 0 disables
// that scope's check. Returns {allowed, orgCount, userCount}.
var checkAndIncrLua = redis.NewScript(`
	local org = tonumber(redis.call('GET', KEYS[1]) or '0')
	local user = tonumber(redis.call('GET', KEYS[2]) or '0')
	local orgLimit = tonumber(ARGV[1])
	local userLimit = tonumber(ARGV[2])
	if (orgLimit > 0 and org >= orgLimit) or (userLimit > 0 and user >= userLimit) then
		return {0, org, user}
	end
	org = redis.call('INCR', KEYS[1])
	user = redis.call('INCR', KEYS[2])
	if org == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[3])
	end
	if user == 1 then
		redis.call('EXPIRE', KEYS[2], ARGV[3])
	end
	return {1, org, user}
`)

// RedisLimiter shares counters across gateway instances. Keys embed the
// window start, so a rolled-over window is a fresh key; the TTL only
// garbage-collects closed windows.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(ctx context.Context, cfg config.RedisConfig) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Rate limiter connected to Redis")
	return &RedisLimiter{client: client, now: time.Now}, nil
}

// CheckAndIncrement implements Limiter.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, orgID, userID string, limits auth.PlanLimits) (Result, error) {
	now := l.now()
	win := windowStart(now).Unix()

	keys := []string{
		fmt.Sprintf("ratelimit:%s:%d", orgKey(orgID), win),
		fmt.Sprintf("ratelimit:%s:%d", userKey(userID), win),
	}

	// Keep closed windows around for one extra minute, then let them expire.
	const ttlSeconds = 120

	vals, err := checkAndIncrLua.Run(ctx, l.client, keys,
		limits.OrgPerMinute, limits.UserPerMinute, ttlSeconds).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate limit script returned %d values, want 3", len(vals))
	}

	res := Result{
		Allowed:   vals[0] == 1,
		OrgCount:  int(vals[1]),
		UserCount: int(vals[2]),
	}
	if !res.Allowed {
		res.RetryAfter = untilRollover(now)
	}
	return res, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
