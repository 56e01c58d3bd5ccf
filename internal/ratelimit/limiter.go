// Package ratelimit spaces out repeated actions by the same key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits at most one action per key per window.
type Limiter interface {
	// Allow records an action for key and reports whether it was admitted.
	Allow(ctx context.Context, key string) (bool, error)
	// Release forgets the action recorded for key so the next Allow is admitted.
	Release(ctx context.Context, key string) error
}

// RedisLimiter keeps windows as expiring Redis keys.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisLimiter builds a limiter storing keys under prefix.
func NewRedisLimiter(client *redis.Client, prefix string, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.window <= 0 {
		return true, nil
	}
	return l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), l.window).Result()
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	if l.window <= 0 {
		return nil
	}
	return l.client.Del(ctx, l.prefix+key).Err()
}

// MemoryLimiter is the in-process fallback.
type MemoryLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.window <= 0 {
		return true, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.seen[key]; ok && now.Sub(last) < l.window {
		return false, nil
	}
	l.seen[key] = now
	for k, t := range l.seen {
		if now.Sub(t) >= l.window {
			delete(l.seen, k)
		}
	}
	return true, nil
}

func (l *MemoryLimiter) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}
