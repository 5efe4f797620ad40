package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/provider"
)

// MinInterval wraps a source and enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval[Req, T any] struct {
	P        provider.Source[Req, T]
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval[Req, T]) Name() string { return m.P.Name() }

func (m *MinInterval[Req, T]) Fetch(ctx context.Context, req Req) (T, error) {
	if m.Interval > 0 {
		// reserve the next slot so concurrent callers queue behind each other
		m.mu.Lock()
		now := time.Now()
		slot := m.last.Add(m.Interval)
		if slot.Before(now) {
			slot = now
		}
		m.last = slot
		m.mu.Unlock()
		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-t.C:
			}
		}
	}
	return m.P.Fetch(ctx, req)
}
