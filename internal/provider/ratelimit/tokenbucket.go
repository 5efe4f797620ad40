package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/provider"
)

// TokenBucket is a token bucket limiter.
//   - rate: tokens per second
//   - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64
	now      func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		now:      time.Now,
		tokens:   float64(burst), // start full to allow an initial burst
		last:     time.Now(),
	}
}

// PerMinute builds a bucket from a requests-per-minute budget, the unit free
// API tiers are quoted in.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60, burst)
}

// reserve takes a token if one is available, otherwise reports how long until
// one will be.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Allow takes a token without waiting.
func (tb *TokenBucket) Allow() bool { return tb.reserve() == 0 }

// Wait blocks until one token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait := tb.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketSource wraps a Source and gates calls using a token bucket.
type TokenBucketSource[Req, T any] struct {
	P  provider.Source[Req, T]
	TB *TokenBucket
}

func (t *TokenBucketSource[Req, T]) Name() string { return t.P.Name() }

func (t *TokenBucketSource[Req, T]) Fetch(ctx context.Context, req Req) (T, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return t.P.Fetch(ctx, req)
}

// Wrap applies the configured gates to src: a token bucket when rpm > 0 and a
// minimum interval when interval > 0.
func Wrap[Req, T any](src provider.Source[Req, T], rpm, burst int, interval time.Duration) provider.Source[Req, T] {
	if rpm > 0 {
		src = &TokenBucketSource[Req, T]{P: src, TB: PerMinute(rpm, burst)}
	}
	if interval > 0 {
		src = &MinInterval[Req, T]{P: src, Interval: interval}
	}
	return src
}
