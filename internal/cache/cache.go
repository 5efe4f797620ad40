package cache

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached payload and the time it was fetched.
// It is valid only while now - FetchedAt < TTL.
type Entry[T any] struct {
	Payload   T
	FetchedAt time.Time
}

// Cache memoizes fetch results per key for a fixed TTL.
// Expired entries are never deleted; the next fetch overwrites them.
// Concurrent misses on the same key share one fetch.
type Cache[T any] struct {
	ttl          time.Duration
	now          func() time.Time
	fetchTimeout time.Duration

	mu    sync.RWMutex
	items map[string]Entry[T]

	flight singleflight.Group
}

type Option func(*options)

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// cancellation of the caller that started it.
const DefaultFetchTimeout = time.Minute

type options struct {
	now          func() time.Time
	fetchTimeout time.Duration
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFetchTimeout bounds each shared fetch. Non-positive values keep the
// default.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

func New[T any](ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{now: time.Now, fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{ttl: ttl, now: o.now, fetchTimeout: o.fetchTimeout, items: make(map[string]Entry[T])}
}

// TTL returns the fixed freshness window.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// GetOrFetch returns the fresh entry for key, or calls fetch, stores the
// result with the current time and returns it. Errors are not cached.
//
// fetch runs on a context that keeps ctx's values but not its cancellation,
// bounded by the fetch timeout, so one caller going away does not fail the
// others sharing the fetch. A caller whose ctx ends returns ctx.Err() while
// the fetch completes for the rest.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.fresh(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ch := c.flight.DoChan(key, func() (any, error) {
		// a flight that finished just before this one may have filled the entry
		if v, ok := c.fresh(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

// Set stores v under key with the current time.
func (c *Cache[T]) Set(key string, v T) {
	c.mu.Lock()
	c.items[key] = Entry[T]{Payload: v, FetchedAt: c.now()}
	c.mu.Unlock()
}

// Peek returns the stored entry for key whether or not it is still fresh.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	return e, ok
}

func (c *Cache[T]) fresh(key string) (T, bool) {
	e, ok := c.Peek(key)
	if !ok || c.ttl <= 0 || c.now().Sub(e.FetchedAt) >= c.ttl {
		var zero T
		return zero, false
	}
	return e.Payload, true
}

// Key derives a stable request key from an instrument id and its parameters.
// Parameters are sorted and both parts are escaped so distinct requests never
// collide.
func Key(id string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(url.PathEscape(id))
	if len(params) == 0 {
		return b.String()
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	b.WriteByte('?')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
