package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(1.0, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}
	if l.Allow("k") {
		t.Fatal("expected the 4th request to be rate limited")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := NewLimiter(1.0, 1)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return fixed }

	if !l.Allow("k") {
		t.Fatal("expected first request to be allowed")
	}
	if l.Allow("k") {
		t.Fatal("expected immediate second request to be denied")
	}

	fixed = fixed.Add(2 * time.Second)
	if !l.Allow("k") {
		t.Fatal("expected request to be allowed after refill")
	}
}

func TestLimiterPerKeyIndependence(t *testing.T) {
	l := NewLimiter(1.0, 1)
	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("expected independent buckets per key")
	}
}

var errRateLimited = errors.New("rate limited")

func TestRetryOnRateLimitRetriesOnce(t *testing.T) {
	attempts := 0
	err := RetryOnRateLimit(context.Background(), func(e error) bool { return errors.Is(e, errRateLimited) }, func() error {
		attempts++
		if attempts == 1 {
			return errRateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRetryOnRateLimitAbandonsAfterSecondFailure(t *testing.T) {
	attempts := 0
	err := RetryOnRateLimit(context.Background(), func(e error) bool { return errors.Is(e, errRateLimited) }, func() error {
		attempts++
		return errRateLimited
	})
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected the rate-limit error to propagate after the retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRetryOnRateLimitPassesThroughNonRateLimitErrors(t *testing.T) {
	other := errors.New("boom")
	attempts := 0
	err := RetryOnRateLimit(context.Background(), func(e error) bool { return errors.Is(e, errRateLimited) }, func() error {
		attempts++
		return other
	})
	if !errors.Is(err, other) {
		t.Fatalf("expected the non-rate-limit error to propagate immediately, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-rate-limit error, got %d", attempts)
	}
}
