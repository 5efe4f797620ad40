package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/currency"
	"marketdata/internal/provider"
)

// DefaultRatesTTL is how long a live exchange-rate table is served before a
// refresh is attempted.
const DefaultRatesTTL = 5 * time.Minute

// refreshTimeout bounds one shared refresh.
const refreshTimeout = time.Minute

// RatesChain resolves a USD rate table.
type RatesChain = provider.Chain[string, provider.RateTable]

// NewRatesChain builds the exchange-rate chain with the hardcoded table as its
// synthetic fallback.
func NewRatesChain(sources []provider.Source[string, provider.RateTable], timeout time.Duration, log zerolog.Logger) *RatesChain {
	return provider.NewChain("rates", sources, provider.Options[string, provider.RateTable]{
		Timeout:      timeout,
		Empty:        provider.EmptyRates,
		Fallback:     func(string) provider.RateTable { return currency.FallbackRates() },
		FallbackName: "Fallback Data",
		Logger:       log,
	})
}

// RatesService holds the current exchange-rate table. A failed refresh keeps
// the previous table; with no previous table the hardcoded one is used, so the
// table is never empty.
type RatesService struct {
	chain *RatesChain
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger

	mu        sync.RWMutex
	table     provider.RateTable
	fetchedAt time.Time // zero while only fallback data is held

	sf singleflight.Group
}

func NewRatesService(chain *RatesChain, ttl time.Duration, log zerolog.Logger) *RatesService {
	if ttl <= 0 {
		ttl = DefaultRatesTTL
	}
	return &RatesService{
		chain: chain,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With().Str("service", "rates").Logger(),
	}
}

// Table returns the current table, refreshing it first when it is stale.
func (s *RatesService) Table(ctx context.Context) provider.RateTable {
	s.mu.RLock()
	fresh := !s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.ttl
	t := s.table
	s.mu.RUnlock()
	if fresh {
		return t
	}
	return s.Refresh(ctx)
}

// Refresh resolves the rate chain now. Concurrent refreshes share one
// resolution, which does not stop when the caller that started it goes away.
// A caller whose ctx ends gets the table held at that moment.
func (s *RatesService) Refresh(ctx context.Context) provider.RateTable {
	ch := s.sf.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx), nil
	})
	select {
	case <-ctx.Done():
		if t, _ := s.Snapshot(); t.Len() > 0 {
			return t
		}
		return currency.FallbackRates()
	case r := <-ch:
		return r.Val.(provider.RateTable)
	}
}

func (s *RatesService) refresh(ctx context.Context) provider.RateTable {
	res := s.chain.Resolve(ctx, currency.Base)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !res.Synthetic {
		s.table = res.Value
		s.fetchedAt = s.now()
		s.log.Debug().Str("source", res.Source).Int("rates", res.Value.Len()).Msg("exchange rates refreshed")
		return s.table
	}
	if s.table.Len() > 0 {
		s.log.Warn().Err(res.Err()).Str("source", s.table.Source).Msg("exchange rate refresh failed, keeping previous table")
		return s.table
	}
	s.table = res.Value
	return s.table
}

// RateFor returns the USD rate for code, consulting the hardcoded table for
// currencies the current table lacks. Unknown currencies yield 1.
func (s *RatesService) RateFor(ctx context.Context, code string) float64 {
	r, _ := currency.Rate(s.Table(ctx), code)
	return r
}

// Snapshot returns the held table and when it was last refreshed from a live
// source, without triggering a refresh.
func (s *RatesService) Snapshot() (provider.RateTable, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table, s.fetchedAt
}
