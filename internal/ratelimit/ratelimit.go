// Package ratelimit implements fixed-window attempt counters for authentication endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultLimit  = 10
	DefaultWindow = 15 * time.Minute

	defaultMaxKeys = 100_000
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts per key within fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func bucket(now time.Time, window time.Duration) (int64, time.Duration) {
	idx := now.UnixNano() / int64(window)
	end := time.Unix(0, (idx+1)*int64(window))
	return idx, end.Sub(now)
}

func decide(count int64, limit int, retry time.Duration) Decision {
	d := Decision{Allowed: count <= int64(limit), Limit: limit}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d
}

// Memory keeps counters in a bounded, expiring LRU. Counts are per process.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters *expirable.LRU[string, int64]
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithMaxKeys bounds the number of tracked keys.
func WithMaxKeys(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.counters = expirable.NewLRU[string, int64](n, nil, m.window)
		}
	}
}

// NewMemory returns an in-process limiter admitting limit attempts per window.
func NewMemory(limit int, window time.Duration, opts ...MemoryOption) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Memory{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: expirable.NewLRU[string, int64](defaultMaxKeys, nil, window),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	idx, retry := bucket(m.now(), m.window)
	k := fmt.Sprintf("%s:%d", key, idx)

	m.mu.Lock()
	count, _ := m.counters.Get(k)
	count++
	m.counters.Add(k, count)
	m.mu.Unlock()

	return decide(count, m.limit, retry), nil
}

// Redis shares counters between instances through INCR and EXPIRE on window-bucketed keys.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis returns a limiter backed by client.
func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow fails open: on a Redis error the attempt is allowed and the error returned.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	idx, retry := bucket(r.now(), r.window)
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, idx)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit}, fmt.Errorf("redis error: %w", err)
	}
	return decide(incr.Val(), r.limit, retry), nil
}
