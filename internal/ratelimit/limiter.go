// Package ratelimit provides a per-key token bucket limiter and the fixed-
// delay single-retry policy the pipeline applies to AT Protocol 429s. The
// network client itself holds no retry logic (see internal/atproto) — this
// package is where callers decide what to do about a rate limit.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/nvandessel/charcoal/internal/constants"
)

// Limiter implements a per-key token bucket rate limiter. Each key gets its
// own bucket with the configured rate and burst. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max burst size (also initial token count)
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and
// burst size. Burst also serves as the initial token count.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow reports whether a request for key should proceed, refilling its
// bucket for elapsed time before checking.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// RetryOnRateLimit runs fn once; if fn returns an error for which
// isRateLimit reports true, it waits constants.RateLimitBackoff and retries
// exactly once more, per the spec's "fixed delay, single retry, then
// abandon" rate-limit policy. Any other error, or a second rate-limited
// attempt, is returned as-is.
func RetryOnRateLimit(ctx context.Context, isRateLimit func(error) bool, fn func() error) error {
	err := fn()
	if err == nil || !isRateLimit(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(constants.RateLimitBackoff):
	}

	return fn()
}
