// Package joblimit throttles job trigger endpoints so that a misconfigured
// or hostile cron caller cannot run sweeps back to back. Counters are kept
// per job key over a fixed window, in Redis when available so the limit
// holds across replicas, otherwise in process memory.
package joblimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	// ResetAt is when the current window expires and the counter restarts.
	ResetAt time.Time
}

// Limiter answers whether a job identified by jobKey may run now, given a
// budget of max runs per window.
type Limiter interface {
	Allow(ctx context.Context, jobKey string, max int, window time.Duration) (Decision, error)
}

// RedisLimiter counts job runs in Redis using INCR with an expiry set on the
// first hit of each window.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, jobKey string, max int, window time.Duration) (Decision, error) {
	key := fmt.Sprintf("joblimit:%s", jobKey)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		// Expiry was lost (e.g. Redis restarted between INCR and EXPIRE).
		// Reinstate it so the key cannot count forever.
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("expire %s: %w", key, err)
		}
		ttl = window
	}

	return Decision{
		Allowed: count <= int64(max),
		ResetAt: time.Now().Add(ttl),
	}, nil
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the in-process fallback used when no Redis URL is
// configured. Limits are per replica.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, jobKey string, max int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[jobKey]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		l.windows[jobKey] = w
	}
	w.count++

	return Decision{
		Allowed: w.count <= max,
		ResetAt: w.resetAt,
	}, nil
}

// New picks the Redis implementation when redisURL is set, otherwise the
// in-memory one.
func New(redisURL string) (Limiter, error) {
	if redisURL == "" {
		return NewMemoryLimiter(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLimiter(redis.NewClient(opts)), nil
}
