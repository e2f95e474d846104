// Package cache holds the redis-backed helpers: step send dedup for the
// sequence processor and the per-user chat rate limiter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultDedupTTL outlives any lease so a retried run never resends a step.
	DefaultDedupTTL = 7 * 24 * time.Hour

	dedupPrefix = "academy:step:"
	ratePrefix  = "academy:rate:"
)

// NewRedis parses a redis:// URL and checks the connection.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// StepDedup records which enrollment steps have been handed to the sender.
type StepDedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStepDedup(rdb *redis.Client) *StepDedup {
	return &StepDedup{rdb: rdb, ttl: DefaultDedupTTL}
}

// MarkSent returns true when key was not seen before, marking it atomically.
func (d *StepDedup) MarkSent(ctx context.Context, key string) (bool, error) {
	set, err := d.rdb.SetNX(ctx, dedupPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

func (d *StepDedup) Forget(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, dedupPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	rdb *redis.Client
}

func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Allow counts one hit for key in the current window and reports whether the
// count is still within limit. A limit <= 0 disables the check.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	k := windowKey(key, window, time.Now())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

func windowKey(key string, window time.Duration, now time.Time) string {
	if window <= 0 {
		window = time.Minute
	}
	return fmt.Sprintf("%s%s:%d", ratePrefix, key, now.UnixNano()/int64(window))
}
