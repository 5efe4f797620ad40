// Package metals holds spot-price adapters for precious metals. Every adapter
// returns USD prices for the requested symbols.
package metals

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

// Metal describes one supported metal.
type Metal struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Supported lists the metals in display order.
var Supported = []Metal{
	{Symbol: "XAU", Name: "Gold"},
	{Symbol: "XAG", Name: "Silver"},
	{Symbol: "XPT", Name: "Platinum"},
	{Symbol: "XPD", Name: "Palladium"},
}

// Symbols returns the supported metal symbols in display order.
func Symbols() []string {
	out := make([]string, len(Supported))
	for i, m := range Supported {
		out[i] = m.Symbol
	}
	return out
}

// NameOf returns the display name for symbol, or the symbol itself.
func NameOf(symbol string) string {
	for _, m := range Supported {
		if strings.EqualFold(m.Symbol, symbol) {
			return m.Name
		}
	}
	return symbol
}

// Source is a metals adapter usable in a provider chain.
type Source = provider.Source[[]string, []provider.Quote]

// ProxyConfig configures a scraping proxy that accepts the symbol list and
// answers with normalized metal prices.
type ProxyConfig struct {
	Name string
	// Path is relative to the client's base URL, e.g. /api/kitco-metals.
	Path string
}

// Proxy reads prices from a first-party scraping proxy (Yahoo Finance and
// Kitco in the default chain).
type Proxy struct {
	cfg    ProxyConfig
	client *httpx.Client
	now    func() time.Time
}

func NewProxy(cfg ProxyConfig, hc *httpx.Client) *Proxy {
	if cfg.Name == "" {
		cfg.Name = "Proxy"
	}
	return &Proxy{cfg: cfg, client: hc, now: time.Now}
}

func (p *Proxy) Name() string { return p.cfg.Name }

func (p *Proxy) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if p.cfg.Path == "" || p.client == nil {
		return nil, provider.ErrNotConfigured
	}
	resp, err := p.client.Request(ctx, http.MethodPost, p.cfg.Path, nil, proxyRequest{Symbols: symbols})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body proxyResponse
	if err := decode(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%s: %w", p.cfg.Name, err)
	}
	now := p.now()
	out := make([]provider.Quote, 0, len(body.Metals))
	for _, m := range body.Metals {
		if m.Price <= 0 {
			continue
		}
		name := m.Name
		if name == "" {
			name = NameOf(m.Symbol)
		}
		cur := m.Currency
		if cur == "" {
			cur = "USD"
		}
		out = append(out, provider.Quote{
			InstrumentID:  strings.ToUpper(m.Symbol),
			Name:          name,
			Price:         m.Price,
			Change:        m.Change24h,
			ChangePercent: m.ChangePercent24h,
			Currency:      cur,
			Timestamp:     now,
			Source:        p.cfg.Name,
		})
	}
	return out, nil
}

type proxyRequest struct {
	Symbols []string `json:"symbols"`
}

type proxyResponse struct {
	Metals []struct {
		Symbol           string  `json:"symbol"`
		Name             string  `json:"name"`
		Price            float64 `json:"price"`
		Currency         string  `json:"currency"`
		Change24h        float64 `json:"change24h"`
		ChangePercent24h float64 `json:"changePercent24h"`
	} `json:"metals"`
}
