package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketgate/internal/utils/clock"
)

// Decision — результат проверки лимита.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter — лимит запросов фиксированным окном на счетчиках Redis (INCR + EXPIRE).
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	clock  clock.Clock
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration, clk clock.Clock) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
		clock:  clk,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.clock.Now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart.Unix())

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, fmt.Errorf("incr %s: %w", redisKey, err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - 1}, fmt.Errorf("expire %s: %w", redisKey, err)
		}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(l.limit),
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: windowStart.Add(l.window).Sub(now),
	}, nil
}
