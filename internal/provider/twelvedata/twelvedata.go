// Package twelvedata adapts the Twelve Data REST API to the provider chain
// for crypto quotes.
package twelvedata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

// Request asks for one asset priced in Quote currency.
type Request struct {
	Symbol string
	Quote  string
}

// Pair returns the Twelve Data pair symbol, e.g. BTC/USD.
func (r Request) Pair() string {
	q := strings.ToUpper(strings.TrimSpace(r.Quote))
	if q == "" {
		q = "USD"
	}
	return strings.ToUpper(strings.TrimSpace(r.Symbol)) + "/" + q
}

type Config struct {
	Name   string
	APIKey string
}

// Client fetches the spot price from /price and enriches it with the daily
// change, volume and market cap from /quote. A failing /quote call leaves
// those figures at zero.
type Client struct {
	cfg    Config
	client *httpx.Client
	log    zerolog.Logger
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client, log zerolog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "Twelve Data"
	}
	return &Client{cfg: cfg, client: hc, log: log, now: time.Now}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Fetch(ctx context.Context, req Request) (provider.Quote, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return provider.Quote{}, provider.ErrNotConfigured
	}
	pair := req.Pair()

	var price priceResponse
	if err := c.get(ctx, "price", pair, &price); err != nil {
		return provider.Quote{}, err
	}
	if price.Price <= 0 {
		return provider.Quote{}, fmt.Errorf("twelvedata %s: %w", pair, provider.ErrEmptyResult)
	}

	q := provider.Quote{
		InstrumentID: strings.ToUpper(req.Symbol),
		Price:        float64(price.Price),
		Currency:     pair[strings.IndexByte(pair, '/')+1:],
		Timestamp:    c.now(),
		Source:       c.cfg.Name,
	}
	var detail quoteResponse
	if err := c.get(ctx, "quote", pair, &detail); err != nil {
		c.log.Debug().Err(err).Str("symbol", pair).Msg("twelvedata quote details unavailable")
		return q, nil
	}
	q.Name = detail.Name
	q.Change = float64(detail.Change)
	q.ChangePercent = float64(detail.PercentChange)
	q.Volume = float64(detail.Volume)
	q.MarketCap = float64(detail.MarketCap)
	if detail.Timestamp > 0 {
		q.Timestamp = time.Unix(detail.Timestamp, 0).UTC()
	}
	return q, nil
}

func (c *Client) get(ctx context.Context, path, pair string, out statusCarrier) error {
	params := url.Values{"symbol": {pair}, "apikey": {c.cfg.APIKey}}
	if err := c.client.GetJSON(ctx, path, params, out); err != nil {
		return err
	}
	// errors arrive with a 200 status and an error envelope
	if s := out.status(); s.Status == "error" {
		return fmt.Errorf("twelvedata %s %s: %d %s", path, pair, s.Code, s.Message)
	}
	return nil
}

type envelope struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *envelope) status() envelope { return *e }

type statusCarrier interface{ status() envelope }

type priceResponse struct {
	envelope
	Price number `json:"price"`
}

type quoteResponse struct {
	envelope
	Name          string `json:"name"`
	Timestamp     int64  `json:"timestamp"`
	Change        number `json:"change"`
	PercentChange number `json:"percent_change"`
	Volume        number `json:"volume"`
	MarketCap     number `json:"market_cap"`
}

// number accepts JSON numbers and numeric strings. Anything unparseable is 0.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = number(f)
	return nil
}

var _ json.Unmarshaler = (*number)(nil)
