package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a sliding window over a redis sorted set keyed per
// identifier. It fails open: if redis is unreachable the request is allowed.
type RateLimiter struct {
	rdb         *redis.Client
	log         *log.Logger
	interval    time.Duration
	maxRequests int
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

func NewRateLimiter(rdb *redis.Client, logger *log.Logger, interval time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		rdb:         rdb,
		log:         logger,
		interval:    interval,
		maxRequests: maxRequests,
	}
}

// Check records a request for the identifier and reports whether it is
// within the limit.
func (rl *RateLimiter) Check(ctx context.Context, identifier string) RateLimitResult {
	key := "rate_limit:" + identifier
	now := time.Now()
	windowStart := now.Add(-rl.interval)
	resetAt := now.Add(rl.interval)

	if err := rl.rdb.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		rl.log.Println("rate limit trim:", err)
		return RateLimitResult{Allowed: true, Remaining: rl.maxRequests, ResetAt: resetAt}
	}

	count, err := rl.rdb.ZCard(ctx, key).Result()
	if err != nil {
		rl.log.Println("rate limit count:", err)
		return RateLimitResult{Allowed: true, Remaining: rl.maxRequests, ResetAt: resetAt}
	}

	if int(count) >= rl.maxRequests {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := rl.rdb.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member}).Err(); err != nil {
		rl.log.Println("rate limit add:", err)
		return RateLimitResult{Allowed: true, Remaining: rl.maxRequests, ResetAt: resetAt}
	}

	rl.rdb.Expire(ctx, key, rl.interval)

	return RateLimitResult{
		Allowed:   true,
		Remaining: rl.maxRequests - int(count) - 1,
		ResetAt:   resetAt,
	}
}

// Reset clears the window for an identifier.
func (rl *RateLimiter) Reset(ctx context.Context, identifier string) error {
	return rl.rdb.Del(ctx, "rate_limit:"+identifier).Err()
}
