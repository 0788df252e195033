package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces a minimum interval between sends to the same mobile.
type Limiter interface {
	// Allow reports whether key may act now and, if so, blocks it for window.
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release lifts a block taken by Allow.
	Release(ctx context.Context, key string) error
}

// NopLimiter allows everything.
type NopLimiter struct{}

func (NopLimiter) Allow(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (NopLimiter) Release(context.Context, string) error { return nil }

// RedisLimiter keeps cooldowns in Redis so they hold across instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter returns a limiter storing keys under "otp:cooldown:".
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "otp:cooldown:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
