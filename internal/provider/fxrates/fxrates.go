// Package fxrates holds exchange-rate table adapters. Each adapter answers the
// rates of every currency it knows against the requested base currency.
package fxrates

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

// Source is an exchange-rate adapter usable in a provider chain.
type Source = provider.Source[string, provider.RateTable]

// apiError is the error envelope shared by the apilayer family (Fixer,
// CurrencyLayer).
type apiError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

func (e *apiError) err(name string) error {
	if e == nil {
		return nil
	}
	msg := e.Info
	if msg == "" {
		msg = e.Type
	}
	return fmt.Errorf("%s error %d: %s", name, e.Code, msg)
}

func normalize(rates map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(rates))
	for k, v := range rates {
		if v > 0 {
			out[strings.ToUpper(k)] = v
		}
	}
	return out
}

func stamp(unix int64, now func() time.Time) time.Time {
	if unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	return now()
}

// ExchangeRateAPI reads the keyless v4 endpoint of exchangerate-api.com.
type ExchangeRateAPI struct {
	name   string
	client *httpx.Client
	now    func() time.Time
}

func NewExchangeRateAPI(hc *httpx.Client) *ExchangeRateAPI {
	return &ExchangeRateAPI{name: "ExchangeRate-API", client: hc, now: time.Now}
}

func (e *ExchangeRateAPI) Name() string { return e.name }

func (e *ExchangeRateAPI) Fetch(ctx context.Context, base string) (provider.RateTable, error) {
	var body struct {
		Base            string             `json:"base"`
		TimeLastUpdated int64              `json:"time_last_updated"`
		Rates           map[string]float64 `json:"rates"`
	}
	if err := e.client.GetJSON(ctx, "v4/latest/"+url.PathEscape(strings.ToUpper(base)), nil, &body); err != nil {
		return provider.RateTable{}, err
	}
	return provider.RateTable{
		Base:      strings.ToUpper(base),
		Rates:     normalize(body.Rates),
		Timestamp: stamp(body.TimeLastUpdated, e.now),
		Source:    e.name,
	}, nil
}

// Fixer reads the latest endpoint of the Fixer API.
type Fixer struct {
	name   string
	apiKey string
	client *httpx.Client
	now    func() time.Time
}

func NewFixer(apiKey string, hc *httpx.Client) *Fixer {
	return &Fixer{name: "Fixer", apiKey: apiKey, client: hc, now: time.Now}
}

func (f *Fixer) Name() string { return f.name }

func (f *Fixer) Fetch(ctx context.Context, base string) (provider.RateTable, error) {
	if strings.TrimSpace(f.apiKey) == "" {
		return provider.RateTable{}, provider.ErrNotConfigured
	}
	var body struct {
		Timestamp int64              `json:"timestamp"`
		Rates     map[string]float64 `json:"rates"`
		Error     *apiError          `json:"error"`
	}
	params := url.Values{"access_key": {f.apiKey}, "base": {strings.ToUpper(base)}}
	if err := f.client.GetJSON(ctx, "latest", params, &body); err != nil {
		return provider.RateTable{}, err
	}
	if err := body.Error.err(f.name); err != nil {
		return provider.RateTable{}, err
	}
	return provider.RateTable{
		Base:      strings.ToUpper(base),
		Rates:     normalize(body.Rates),
		Timestamp: stamp(body.Timestamp, f.now),
		Source:    f.name,
	}, nil
}

// CurrencyLayer reads the live endpoint of CurrencyLayer. Quotes arrive keyed
// by the concatenated pair (USDINR) and are re-keyed by target currency.
type CurrencyLayer struct {
	name   string
	apiKey string
	client *httpx.Client
	now    func() time.Time
}

func NewCurrencyLayer(apiKey string, hc *httpx.Client) *CurrencyLayer {
	return &CurrencyLayer{name: "CurrencyLayer", apiKey: apiKey, client: hc, now: time.Now}
}

func (c *CurrencyLayer) Name() string { return c.name }

func (c *CurrencyLayer) Fetch(ctx context.Context, base string) (provider.RateTable, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return provider.RateTable{}, provider.ErrNotConfigured
	}
	base = strings.ToUpper(base)
	var body struct {
		Timestamp int64              `json:"timestamp"`
		Source    string             `json:"source"`
		Quotes    map[string]float64 `json:"quotes"`
		Error     *apiError          `json:"error"`
	}
	params := url.Values{"access_key": {c.apiKey}, "source": {base}}
	if err := c.client.GetJSON(ctx, "live", params, &body); err != nil {
		return provider.RateTable{}, err
	}
	if err := body.Error.err(c.name); err != nil {
		return provider.RateTable{}, err
	}
	rates := make(map[string]float64, len(body.Quotes))
	for pair, v := range body.Quotes {
		pair = strings.ToUpper(pair)
		if v <= 0 || !strings.HasPrefix(pair, base) || len(pair) == len(base) {
			continue
		}
		rates[strings.TrimPrefix(pair, base)] = v
	}
	return provider.RateTable{
		Base:      base,
		Rates:     rates,
		Timestamp: stamp(body.Timestamp, c.now),
		Source:    c.name,
	}, nil
}
