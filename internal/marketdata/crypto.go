package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/cache"
	"marketdata/internal/currency"
	"marketdata/internal/provider"
	"marketdata/internal/provider/twelvedata"
)

// DemoSource tags crypto quotes taken from the static demo table.
const DemoSource = "Demo Data"

// CryptoAsset is one entry of the crypto catalog.
type CryptoAsset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CryptoAssets is the default crypto board in display order.
var CryptoAssets = []CryptoAsset{
	{"BTC", "Bitcoin"},
	{"ETH", "Ethereum"},
	{"BNB", "Binance Coin"},
	{"SOL", "Solana"},
	{"XRP", "Ripple"},
	{"ADA", "Cardano"},
	{"AVAX", "Avalanche"},
	{"DOT", "Polkadot"},
	{"LINK", "Chainlink"},
	{"MATIC", "Polygon"},
}

// demoCrypto holds static USD reference quotes served when no crypto source
// is reachable.
var demoCrypto = map[string]provider.Quote{
	"BTC":   {Name: "Bitcoin", Price: 75234.50, Change: 2847.20, ChangePercent: 3.94, Volume: 28.5e9, MarketCap: 1.48e12},
	"ETH":   {Name: "Ethereum", Price: 3847.25, Change: 89.75, ChangePercent: 2.39, Volume: 12.5e9, MarketCap: 463e9},
	"BNB":   {Name: "Binance Coin", Price: 624.50, Change: 18.75, ChangePercent: 3.10, Volume: 2.1e9, MarketCap: 95e9},
	"SOL":   {Name: "Solana", Price: 187.45, Change: 8.92, ChangePercent: 4.99, Volume: 2.1e9, MarketCap: 85e9},
	"XRP":   {Name: "Ripple", Price: 0.6234, Change: 0.0123, ChangePercent: 2.01, Volume: 1.8e9, MarketCap: 35e9},
	"ADA":   {Name: "Cardano", Price: 0.4856, Change: 0.0123, ChangePercent: 2.60, Volume: 450e6, MarketCap: 17.2e9},
	"AVAX":  {Name: "Avalanche", Price: 42.15, Change: 1.85, ChangePercent: 4.59, Volume: 650e6, MarketCap: 16e9},
	"DOT":   {Name: "Polkadot", Price: 7.85, Change: 0.25, ChangePercent: 3.29, Volume: 320e6, MarketCap: 11e9},
	"LINK":  {Name: "Chainlink", Price: 18.45, Change: 0.75, ChangePercent: 4.24, Volume: 480e6, MarketCap: 10.8e9},
	"MATIC": {Name: "Polygon", Price: 0.95, Change: 0.03, ChangePercent: 3.26, Volume: 280e6, MarketCap: 9e9},
}

// CryptoChain resolves one crypto quote.
type CryptoChain = provider.Chain[twelvedata.Request, provider.Quote]

func NewCryptoChain(sources []provider.Source[twelvedata.Request, provider.Quote], timeout time.Duration, log zerolog.Logger) *CryptoChain {
	return provider.NewChain("crypto", sources, provider.Options[twelvedata.Request, provider.Quote]{
		Timeout:      timeout,
		Empty:        func(q provider.Quote) bool { return q.Price <= 0 },
		Fallback:     demoQuote,
		FallbackName: DemoSource,
		Logger:       log,
	})
}

// demoQuote returns the USD demo entry for the requested symbol, or a zero
// quote for symbols outside the demo table.
func demoQuote(req twelvedata.Request) provider.Quote {
	sym := strings.ToUpper(req.Symbol)
	q := demoCrypto[sym]
	q.InstrumentID = sym
	q.Currency = currency.Base
	q.Source = DemoSource
	return q
}

// CryptoService resolves crypto quotes symbol by symbol.
type CryptoService struct {
	chain *CryptoChain
	rates *RatesService
	cache *cache.Cache[provider.Quote]
	now   func() time.Time
}

// NewCryptoService builds the service. Live quotes are memoized per symbol
// and currency for ttl; demo quotes are not.
func NewCryptoService(chain *CryptoChain, rates *RatesService, ttl time.Duration) *CryptoService {
	return &CryptoService{chain: chain, rates: rates, cache: cache.New[provider.Quote](ttl), now: time.Now}
}

// Quotes returns one quote per symbol, in input order, priced in quoteCurrency
// (USD when empty). Demo quotes are converted at the current exchange rate.
// Symbols no source knows and the demo table lacks are left out.
func (s *CryptoService) Quotes(ctx context.Context, symbols []string, quoteCurrency string) []provider.Quote {
	quoteCurrency = strings.ToUpper(strings.TrimSpace(quoteCurrency))
	if quoteCurrency == "" {
		quoteCurrency = currency.Base
	}
	if len(symbols) == 0 {
		for _, a := range CryptoAssets {
			symbols = append(symbols, a.Symbol)
		}
	}

	results := make([]provider.Quote, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, sym := range symbols {
		g.Go(func() error {
			results[i] = s.quote(gctx, strings.ToUpper(strings.TrimSpace(sym)), quoteCurrency)
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, q := range results {
		if q.Price > 0 {
			out = append(out, q)
		}
	}
	return out
}

func (s *CryptoService) quote(ctx context.Context, sym, quoteCurrency string) provider.Quote {
	key := cache.Key(sym, map[string]string{"currency": quoteCurrency})
	q, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (provider.Quote, error) {
		res := s.chain.Resolve(ctx, twelvedata.Request{Symbol: sym, Quote: quoteCurrency})
		if res.Synthetic {
			return res.Value, errNoLiveSource
		}
		q := res.Value
		if q.Timestamp.IsZero() {
			q.Timestamp = s.now()
		}
		return q, nil
	})
	if err != nil {
		return s.demo(ctx, sym, quoteCurrency)
	}
	return q
}

// demo prices the demo entry for sym in quoteCurrency at the current rate.
func (s *CryptoService) demo(ctx context.Context, sym, quoteCurrency string) provider.Quote {
	q := demoQuote(twelvedata.Request{Symbol: sym, Quote: quoteCurrency})
	if quoteCurrency != currency.Base {
		rate := 1.0
		if s.rates != nil {
			rate = s.rates.RateFor(ctx, quoteCurrency)
		}
		q.Price = currency.Convert(q.Price, rate)
		q.Change = currency.Convert(q.Change, rate)
		q.Volume = currency.Convert(q.Volume, rate)
		q.MarketCap = currency.Convert(q.MarketCap, rate)
		q.Currency = quoteCurrency
	}
	q.Timestamp = s.now()
	return q
}
