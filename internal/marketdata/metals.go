package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/currency"
	"marketdata/internal/provider"
	"marketdata/internal/provider/metals"
)

// FallbackSource tags quotes built from static base prices.
const FallbackSource = "Fallback Data"

// errNoLiveSource keeps a synthetic resolution out of the service caches.
var errNoLiveSource = errors.New("no live source answered")

// fallbackMetal is a static USD reference quote for a metal.
type fallbackMetal struct {
	price, change, changePercent float64
}

var metalBasePrices = map[string]fallbackMetal{
	"XAU": {price: 2347.85, change: 12.45, changePercent: 0.53},
	"XAG": {price: 28.45, change: -0.15, changePercent: -0.52},
	"XPT": {price: 1024.30, change: 8.75, changePercent: 0.86},
	"XPD": {price: 2847.50, change: -45.20, changePercent: -1.56},
}

// MetalsChain resolves USD spot prices for a list of metal symbols.
type MetalsChain = provider.Chain[[]string, []provider.Quote]

func NewMetalsChain(sources []metals.Source, timeout time.Duration, log zerolog.Logger) *MetalsChain {
	return provider.NewChain("metals", sources, provider.Options[[]string, []provider.Quote]{
		Timeout:      timeout,
		Empty:        provider.EmptyQuotes,
		Fallback:     fallbackMetals,
		FallbackName: FallbackSource,
		Logger:       log,
	})
}

// fallbackMetals builds USD quotes from static base prices. The change
// figures are fixed reference values, never randomized.
func fallbackMetals(symbols []string) []provider.Quote {
	out := make([]provider.Quote, 0, len(symbols))
	for _, sym := range symbols {
		base, ok := metalBasePrices[sym]
		if !ok {
			continue
		}
		out = append(out, provider.Quote{
			InstrumentID:  sym,
			Name:          metals.NameOf(sym),
			Price:         base.price,
			Change:        base.change,
			ChangePercent: base.changePercent,
			Currency:      currency.Base,
			Source:        FallbackSource,
		})
	}
	return out
}

// CountryMetals is the metal board for one country.
type CountryMetals struct {
	CountryCode string           `json:"country_code"`
	Country     string           `json:"country"`
	Currency    string           `json:"currency"`
	Rate        float64          `json:"exchange_rate"`
	Metals      []provider.Quote `json:"metals"`
	Source      string           `json:"source"`
	Synthetic   bool             `json:"synthetic"`
	LastUpdated time.Time        `json:"last_updated"`
}

// MetalsService prices the supported metals in a country's currency.
type MetalsService struct {
	chain   *MetalsChain
	rates   *RatesService
	symbols []string
	cache   *cache.Cache[provider.Resolution[[]provider.Quote]]
	now     func() time.Time
	log     zerolog.Logger
}

// NewMetalsService builds the service. Live USD resolutions are memoized for
// ttl; a ttl of 0 disables memoization. Fallback prices are never memoized.
func NewMetalsService(chain *MetalsChain, rates *RatesService, ttl time.Duration, log zerolog.Logger) *MetalsService {
	return &MetalsService{
		chain:   chain,
		rates:   rates,
		symbols: metals.Symbols(),
		cache:   cache.New[provider.Resolution[[]provider.Quote]](ttl),
		now:     time.Now,
		log:     log.With().Str("service", "metals").Logger(),
	}
}

// ForCountry returns the metals priced in the currency of countryCode. Live
// USD prices are converted at the current exchange rate; when every metals
// source fails the static base prices are converted at the country's fixed
// rate instead. Only an unknown country is an error.
func (s *MetalsService) ForCountry(ctx context.Context, countryCode string) (CountryMetals, error) {
	country, err := currency.CountryByCode(countryCode)
	if err != nil {
		return CountryMetals{}, err
	}

	res, err := s.cache.GetOrFetch(ctx, cache.Key("metals", nil), func(ctx context.Context) (provider.Resolution[[]provider.Quote], error) {
		res := s.chain.Resolve(ctx, s.symbols)
		if res.Synthetic {
			return res, errNoLiveSource
		}
		return res, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("metals resolution not live")
		res = provider.Resolution[[]provider.Quote]{Value: fallbackMetals(s.symbols), Source: FallbackSource, Synthetic: true}
	}

	rate := country.Rate
	if !res.Synthetic && s.rates != nil {
		rate = s.rates.RateFor(ctx, country.Currency)
	}
	if res.Synthetic {
		s.log.Warn().Str("country", country.Code).Msg("serving fallback metal prices")
	}

	now := s.now()
	out := CountryMetals{
		CountryCode: country.Code,
		Country:     country.Name,
		Currency:    country.Currency,
		Rate:        rate,
		Metals:      make([]provider.Quote, 0, len(res.Value)),
		Source:      res.Source,
		Synthetic:   res.Synthetic,
		LastUpdated: now,
	}
	for _, q := range res.Value {
		q.Price = currency.Convert(q.Price, rate)
		q.Change = currency.Convert(q.Change, rate)
		q.Currency = country.Currency
		if q.Timestamp.IsZero() {
			q.Timestamp = now
		}
		out.Metals = append(out.Metals, q)
	}
	return out, nil
}
