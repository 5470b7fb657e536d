// Package ratelimit counts API requests per key, in process or in Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// idleAfter is how long an unused key keeps its bucket.
const idleAfter = 2 * time.Hour

// Memory is an in-process token bucket per key: limit tokens refilled
// evenly over window. It suits a single replica.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	sweptAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

var _ domain.RateLimiter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*bucket), now: time.Now}
}

// WithClock replaces the clock; for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.limit != limit || b.window != window {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			limit:   limit,
			window:  window,
		}
		m.buckets[key] = b
	}
	b.lastSeen = now
	m.sweep(now)

	return b.limiter.AllowN(now, 1), nil
}

// sweep drops idle buckets at most once per idleAfter.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.sweptAt) < idleAfter {
		return
	}
	m.sweptAt = now
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(m.buckets, key)
		}
	}
}
