package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey holds the slot marker shared by all exporter processes.
const DefaultRedisKey = "wb:rate_limit:slot"

// minPoll bounds the retry delay when the slot key has no usable TTL.
const minPoll = 5 * time.Millisecond

// RedisLimiter spaces requests across processes. A request slot is claimed
// with SET NX PX; the key expiring after one interval releases the next slot.
type RedisLimiter struct {
	redis    *redis.Client
	key      string
	interval time.Duration
	logger   zerolog.Logger
}

// NewRedisLimiter creates a Redis-backed limiter. An empty key selects
// DefaultRedisKey.
func NewRedisLimiter(redisClient *redis.Client, key string, interval time.Duration, logger zerolog.Logger) *RedisLimiter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLimiter{
		redis:    redisClient,
		key:      key,
		interval: interval,
		logger:   logger,
	}
}

// Wait blocks until this process owns the next request slot.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	start := time.Now()
	for {
		claimed, err := l.redis.SetNX(ctx, l.key, time.Now().UnixNano(), l.interval).Result()
		if err != nil {
			return fmt.Errorf("claim rate limit slot: %w", err)
		}
		if claimed {
			observeWait("redis", time.Since(start))
			return nil
		}

		ttl, err := l.redis.PTTL(ctx, l.key).Result()
		if err != nil {
			return fmt.Errorf("read rate limit slot ttl: %w", err)
		}

		switch {
		case ttl == -1:
			// Slot key lost its expiry; restore it so the slot frees up.
			if err := l.redis.PExpire(ctx, l.key, l.interval).Err(); err != nil {
				return fmt.Errorf("restore rate limit slot ttl: %w", err)
			}
			ttl = l.interval
		case ttl <= 0:
			ttl = minPoll
		case ttl > l.interval:
			ttl = l.interval
		}

		l.logger.Debug().
			Str("key", l.key).
			Dur("wait", ttl).
			Msg("Rate limit slot taken, waiting")

		timer := time.NewTimer(ttl)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
