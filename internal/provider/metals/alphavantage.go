package metals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

// AlphaVantageConfig controls the Alpha Vantage adapter.
type AlphaVantageConfig struct {
	Name   string
	APIKey string
}

// AlphaVantage reads one exchange rate per metal from the
// CURRENCY_EXCHANGE_RATE function. A symbol that fails is skipped; the call
// fails only when no symbol succeeds.
type AlphaVantage struct {
	cfg    AlphaVantageConfig
	client *httpx.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewAlphaVantage(cfg AlphaVantageConfig, hc *httpx.Client, log zerolog.Logger) *AlphaVantage {
	if cfg.Name == "" {
		cfg.Name = "Alpha Vantage"
	}
	return &AlphaVantage{cfg: cfg, client: hc, log: log, now: time.Now}
}

func (a *AlphaVantage) Name() string { return a.cfg.Name }

func (a *AlphaVantage) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return nil, provider.ErrNotConfigured
	}
	out := make([]provider.Quote, 0, len(symbols))
	var errs []error
	for _, sym := range symbols {
		q, err := a.fetchOne(ctx, strings.ToUpper(sym))
		if err != nil {
			a.log.Debug().Err(err).Str("symbol", sym).Msg("alpha vantage symbol failed")
			errs = append(errs, err)
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (a *AlphaVantage) fetchOne(ctx context.Context, sym string) (provider.Quote, error) {
	params := url.Values{
		"function":      {"CURRENCY_EXCHANGE_RATE"},
		"from_currency": {sym},
		"to_currency":   {"USD"},
		"apikey":        {a.cfg.APIKey},
	}
	var body alphaVantageResponse
	if err := a.client.GetJSON(ctx, "query", params, &body); err != nil {
		return provider.Quote{}, err
	}
	// throttled or invalid calls still answer 200 with a message instead of data
	if msg := body.message(); msg != "" {
		return provider.Quote{}, fmt.Errorf("alpha vantage %s: %s", sym, msg)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(body.Rate.ExchangeRate), 64)
	if err != nil || price <= 0 {
		return provider.Quote{}, fmt.Errorf("alpha vantage %s: %w", sym, provider.ErrEmptyResult)
	}
	ts := a.now()
	if t, err := time.Parse("2006-01-02 15:04:05", body.Rate.LastRefreshed); err == nil {
		ts = t
	}
	return provider.Quote{
		InstrumentID: sym,
		Name:         NameOf(sym),
		Price:        price,
		Currency:     "USD",
		Timestamp:    ts,
		Source:       a.cfg.Name,
	}, nil
}

type alphaVantageResponse struct {
	Rate struct {
		ExchangeRate  string `json:"5. Exchange Rate"`
		LastRefreshed string `json:"6. Last Refreshed"`
	} `json:"Realtime Currency Exchange Rate"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (r alphaVantageResponse) message() string {
	switch {
	case r.ErrorMessage != "":
		return r.ErrorMessage
	case r.Note != "":
		return r.Note
	case r.Information != "":
		return r.Information
	}
	return ""
}
