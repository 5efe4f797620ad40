package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FallbackSource is the source name reported for synthetic values when
// Options.FallbackName is unset.
const FallbackSource = "fallback"

// Options configures a Chain.
type Options[Req, T any] struct {
	// Timeout bounds each source call independently. 0 means no bound.
	Timeout time.Duration
	// Empty reports a successful but unusable value; such values count as failures.
	Empty func(T) bool
	// Fallback builds the synthetic value once every source has failed.
	Fallback func(Req) T
	// FallbackName is reported as Resolution.Source for synthetic values.
	FallbackName string
	Logger       zerolog.Logger
}

// Attempt records one failed source call.
type Attempt struct {
	Source  string        `json:"source"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

// Resolution is the outcome of Chain.Resolve.
type Resolution[T any] struct {
	Value     T
	Source    string
	Synthetic bool
	// Attempts lists the sources that failed before the value was produced, in order.
	Attempts []Attempt
}

// Err joins the errors of every failed attempt, or nil if there were none.
func (r Resolution[T]) Err() error {
	errs := make([]error, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		errs = append(errs, fmt.Errorf("%s: %w", a.Source, a.Err))
	}
	return errors.Join(errs...)
}

// Chain tries its sources one at a time in priority order and falls back to a
// synthetic value when all of them fail. A failed source is never retried
// within the same Resolve.
type Chain[Req, T any] struct {
	name    string
	sources []Source[Req, T]
	opts    Options[Req, T]
}

func NewChain[Req, T any](name string, sources []Source[Req, T], opts Options[Req, T]) *Chain[Req, T] {
	if opts.FallbackName == "" {
		opts.FallbackName = FallbackSource
	}
	opts.Logger = opts.Logger.With().Str("chain", name).Logger()
	return &Chain[Req, T]{name: name, sources: append([]Source[Req, T](nil), sources...), opts: opts}
}

func (c *Chain[Req, T]) Name() string { return c.name }

// Sources returns the source names in priority order.
func (c *Chain[Req, T]) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve never fails: if no source yields a usable value the result is
// synthetic.
func (c *Chain[Req, T]) Resolve(ctx context.Context, req Req) Resolution[T] {
	var res Resolution[T]
	for _, src := range c.sources {
		start := time.Now()
		v, err := c.try(ctx, src, req)
		if err == nil {
			res.Value = v
			res.Source = src.Name()
			return res
		}
		elapsed := time.Since(start)
		res.Attempts = append(res.Attempts, Attempt{Source: src.Name(), Err: err, Elapsed: elapsed})
		c.opts.Logger.Warn().
			Err(err).
			Str("provider", src.Name()).
			Dur("elapsed", elapsed).
			Msg("provider failed, trying next")
	}

	c.opts.Logger.Warn().Int("attempts", len(res.Attempts)).Msg("all providers failed, using fallback data")
	if c.opts.Fallback != nil {
		res.Value = c.opts.Fallback(req)
	}
	res.Source = c.opts.FallbackName
	res.Synthetic = true
	return res
}

// try invokes one source, bounded by the per-source timeout even when the
// source ignores its context.
func (c *Chain[Req, T]) try(ctx context.Context, src Source[Req, T], req Req) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := src.Fetch(ctx, req)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if r.err != nil {
		return zero, r.err
	}
	if c.opts.Empty != nil && c.opts.Empty(r.v) {
		return zero, ErrEmptyResult
	}
	return r.v, nil
}
