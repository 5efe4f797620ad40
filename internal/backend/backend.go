// Package backend is the typed client for the market-data backend API. Stock
// snapshots and chart series are memoized for a short window; every other call
// goes to the network. Errors, market restrictions included, reach the caller
// unchanged.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/httpx"
)

// DefaultTTL is the memoization window for stock and chart data.
const DefaultTTL = 60 * time.Second

const (
	DefaultPeriod   = "3mo"
	DefaultInterval = "1d"
)

// ErrNoData is returned when the backend answers 200 with an error payload.
var ErrNoData = errors.New("backend: no data")

// Client wraps an httpx.Client bound to the backend origin.
//
//go:generate mockgen -package=backend_test -destination=mock_http_client_test.go -source=../httpx/httpx.go HTTPClient
type Client struct {
	http   *httpx.Client
	stocks *cache.Cache[Stock]
	charts *cache.Cache[[]ChartPoint]
	log    zerolog.Logger
}

type Option func(*options)

type options struct {
	ttl   time.Duration
	clock func() time.Time
	log   zerolog.Logger
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(o *options) { o.ttl = ttl } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

func New(hc *httpx.Client, opts ...Option) *Client {
	o := options{ttl: DefaultTTL, clock: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		http:   hc,
		stocks: cache.New[Stock](o.ttl, cache.WithClock(o.clock)),
		charts: cache.New[[]ChartPoint](o.ttl, cache.WithClock(o.clock)),
		log:    o.log.With().Str("client", "backend").Logger(),
	}
}

// Session exposes the process-wide session headers.
func (c *Client) Session() *httpx.Session { return c.http.Session }

// cacheKey scopes a request key to the caller's plan and region, since the
// backend filters markets by both.
func (c *Client) cacheKey(ctx context.Context, id string, params map[string]string) string {
	s := c.http.EffectiveSession(ctx)
	if params == nil {
		params = make(map[string]string, 2)
	}
	params["~plan"] = s.Plan
	params["~continent"] = s.Continent
	return cache.Key(id, params)
}

func symbolPath(symbol string, rest ...string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errors.New("backend: empty symbol")
	}
	parts := append([]string{"stocks", url.PathEscape(symbol)}, rest...)
	return "/" + strings.Join(parts, "/"), nil
}

// Stock returns the real-time snapshot for symbol.
func (c *Client) Stock(ctx context.Context, symbol string) (Stock, error) {
	path, err := symbolPath(symbol)
	if err != nil {
		return Stock{}, err
	}
	return c.stocks.GetOrFetch(ctx, c.cacheKey(ctx, path, nil), func(ctx context.Context) (Stock, error) {
		var s Stock
		if err := c.http.GetJSON(ctx, path, nil, &s); err != nil {
			return Stock{}, err
		}
		return s, nil
	})
}

// Chart returns OHLCV bars. Empty period and interval default to 3mo and 1d.
func (c *Client) Chart(ctx context.Context, symbol, period, interval string) ([]ChartPoint, error) {
	if period == "" {
		period = DefaultPeriod
	}
	if interval == "" {
		interval = DefaultInterval
	}
	path, err := symbolPath(symbol, "chart")
	if err != nil {
		return nil, err
	}
	params := map[string]string{"period": period, "interval": interval}
	key := c.cacheKey(ctx, path, map[string]string{"period": period, "interval": interval})
	return c.charts.GetOrFetch(ctx, key, func(ctx context.Context) ([]ChartPoint, error) {
		var env chartEnvelope
		if err := c.http.GetJSON(ctx, path, toValues(params), &env); err != nil {
			return nil, err
		}
		c.log.Debug().Str("symbol", symbol).Str("period", period).Int("points", len(env.Data)).Msg("chart fetched")
		return env.Data, nil
	})
}

// Technical returns the latest technical indicators for symbol.
func (c *Client) Technical(ctx context.Context, symbol string) (Technical, error) {
	path, err := symbolPath(symbol, "technical")
	if err != nil {
		return nil, err
	}
	var out Technical
	if err := c.http.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// News returns recent articles about symbol grouped by source.
func (c *Client) News(ctx context.Context, symbol string, maxArticles int) (NewsReport, error) {
	path, err := symbolPath(symbol, "news")
	if err != nil {
		return NewsReport{}, err
	}
	var params url.Values
	if maxArticles > 0 {
		params = url.Values{"max_articles": {strconv.Itoa(maxArticles)}}
	}
	var out NewsReport
	if err := c.http.GetJSON(ctx, path, params, &out); err != nil {
		return NewsReport{}, err
	}
	return out, nil
}

// Predict returns the ML outlook for symbol over days trading days (backend
// default when days <= 0).
func (c *Client) Predict(ctx context.Context, symbol string, days int) (Prediction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Prediction{}, errors.New("backend: empty symbol")
	}
	var params url.Values
	if days > 0 {
		params = url.Values{"days": {strconv.Itoa(days)}}
	}
	var out Prediction
	if err := c.http.GetJSON(ctx, "/ml/predict/"+url.PathEscape(symbol), params, &out); err != nil {
		return Prediction{}, err
	}
	if out.Error != "" {
		return out, fmt.Errorf("%w: %s", ErrNoData, out.Error)
	}
	return out, nil
}

// Search finds instruments by symbol or name. Queries shorter than two
// characters return nothing without a network call.
func (c *Client) Search(ctx context.Context, q string) ([]SearchResult, error) {
	q = strings.TrimSpace(q)
	if len(q) < 2 {
		return nil, nil
	}
	var out []SearchResult
	if err := c.http.GetJSON(ctx, "/stocks/search-simple", url.Values{"q": {q}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Info returns the company profile for symbol as loosely typed JSON.
func (c *Client) Info(ctx context.Context, symbol string) (map[string]any, error) {
	path, err := symbolPath(symbol, "info")
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.http.GetJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdvancedMetrics returns risk and return statistics for symbol over period.
func (c *Client) AdvancedMetrics(ctx context.Context, symbol, period string, riskFreeRate float64) (map[string]any, error) {
	path, err := symbolPath(symbol, "advanced-metrics")
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = "1y"
	}
	params := url.Values{
		"period":         {period},
		"risk_free_rate": {strconv.FormatFloat(riskFreeRate, 'f', -1, 64)},
	}
	var out map[string]any
	if err := c.http.GetJSON(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toValues(m map[string]string) url.Values {
	v := make(url.Values, len(m))
	for k, s := range m {
		v.Set(k, s)
	}
	return v
}
