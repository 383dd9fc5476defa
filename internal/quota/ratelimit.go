package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// ExceededError is returned once an api has used up its hourly budget.
type ExceededError struct {
	API     string
	Limit   int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("hourly quota of %d requests for %q exhausted, resets at %s", e.Limit, e.API, e.ResetAt.Format(time.RFC3339))
}

// RateLimiter counts requests per api in fixed one hour windows shared by
// every process talking to the same redis.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, api string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("pipelm:quota:%s:%s", api, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// Check is Allow folded into a single error.
func (r *RateLimiter) Check(ctx context.Context, api string, now time.Time) error {
	allowed, _, resetAt, err := r.Allow(ctx, api, now)
	if err != nil {
		return err
	}
	if !allowed {
		return &ExceededError{API: api, Limit: r.limit, ResetAt: resetAt}
	}
	return nil
}
