package cache

import (
	"context"
	"testing"
	"time"

	"github.com/botforge/botforge/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// a redis client nothing listens on; every call fails fast
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "chatbots:42", Key("chatbots", "42"))
	assert.Equal(t, "single", Key("single"))
}

func TestCacheSwallowsRedisFailures(t *testing.T) {
	c := NewCache(deadRedis(), testutil.TestLogger(t))
	ctx := context.Background()

	var dest []string
	assert.False(t, c.Get(ctx, "k", &dest), "expected a miss when redis is unreachable")

	// none of these may panic or surface an error
	c.Set(ctx, "k", []string{"v"}, TTLShort)
	c.Delete(ctx, "k")
	c.DeletePattern(ctx, "k:*")

	assert.Error(t, c.Ping(ctx), "expected ping to report the outage")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl := NewRateLimiter(deadRedis(), testutil.TestLogger(t), time.Minute, 5)

	res := rl.Check(context.Background(), "10.0.0.1")
	assert.True(t, res.Allowed, "expected the limiter to allow requests when redis is down")
	assert.Equal(t, 5, res.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ResetAt, time.Second)
}
