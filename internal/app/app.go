// Package app wires the access layer from a Config. Both binaries build their
// services through it.
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"marketdata/internal/backend"
	"marketdata/internal/config"
	"marketdata/internal/httpx"
	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/fxrates"
	"marketdata/internal/provider/metals"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/twelvedata"
)

const userAgent = "marketdata/1.0"

type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Session *httpx.Session

	RatesChain  *marketdata.RatesChain
	MetalsChain *marketdata.MetalsChain
	CryptoChain *marketdata.CryptoChain

	Rates   *marketdata.RatesService
	Metals  *marketdata.MetalsService
	Crypto  *marketdata.CryptoService
	Backend *backend.Client
}

// Build constructs every service. Providers that are disabled or lack a
// required API key are left out of their chain.
func Build(cfg config.Config, log zerolog.Logger) *App {
	a := &App{Config: cfg, Log: log}
	timeout := time.Duration(cfg.Providers.TimeoutSec) * time.Second

	a.RatesChain = marketdata.NewRatesChain(rateSources(cfg, log), timeout, log)
	a.MetalsChain = marketdata.NewMetalsChain(metalSources(cfg, log), timeout, log)
	a.CryptoChain = marketdata.NewCryptoChain(cryptoSources(cfg, log), timeout, log)

	a.Rates = marketdata.NewRatesService(a.RatesChain, time.Duration(cfg.Rates.TTLSec)*time.Second, log)
	a.Metals = marketdata.NewMetalsService(a.MetalsChain, a.Rates, time.Duration(cfg.Cache.MetalsTTLSec)*time.Second, log)
	a.Crypto = marketdata.NewCryptoService(a.CryptoChain, a.Rates, time.Duration(cfg.Cache.CryptoTTLSec)*time.Second)

	a.Session = httpx.NewSession(cfg.Session.Plan, cfg.Session.Continent, cfg.Session.UserID)
	hc := httpx.New(cfg.Backend.Timeout(),
		httpx.WithBaseURL(cfg.Backend.BaseURL),
		httpx.WithUserAgent(userAgent),
		httpx.WithSession(a.Session),
		httpx.WithRetry(httpx.RetryPolicy{
			MaxRetries: cfg.Backend.MaxRetries,
			BaseDelay:  cfg.Backend.RetryBase(),
			MaxDelay:   cfg.Backend.RetryMax(),
		}),
		httpx.WithLogger(log),
	)
	a.Backend = backend.New(hc, backend.WithTTL(cfg.Backend.CacheTTL()), backend.WithLogger(log))
	return a
}

// StartScheduler refreshes the exchange-rate table on cfg.Rates.RefreshCron.
// It returns nil when no schedule is configured. Stop the returned cron to end
// the job.
func (a *App) StartScheduler(ctx context.Context) (*cron.Cron, error) {
	schedule := a.Config.Rates.RefreshCron
	if schedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		t := a.Rates.Refresh(ctx)
		a.Log.Debug().Str("job", "rates-refresh").Str("source", t.Source).Int("rates", t.Len()).Msg("job completed")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	a.Log.Info().Str("schedule", schedule).Str("job", "rates-refresh").Msg("job registered")
	return c, nil
}

// providerClient builds an HTTP client for one vendor. Vendors get no retries
// so that a failing source yields to the next one quickly, and no session
// headers.
func providerClient(p config.Provider, timeout time.Duration, log zerolog.Logger) *httpx.Client {
	return httpx.New(timeout,
		httpx.WithBaseURL(p.BaseURL),
		httpx.WithUserAgent(userAgent),
		httpx.WithRetry(httpx.RetryPolicy{}),
		httpx.WithLogger(log),
	)
}

func gate[Req, T any](src provider.Source[Req, T], p config.Provider) provider.Source[Req, T] {
	return ratelimit.Wrap(src, p.MaxRequestsPerMinute, p.Burst, p.MinInterval())
}

// usable reports whether p should join its chain, logging why not.
func usable(name string, p config.Provider, needsKey bool, log zerolog.Logger) bool {
	switch {
	case !p.Enabled:
		return false
	case p.BaseURL == "":
		log.Warn().Str("provider", name).Msg("provider enabled but base_url not set; skipping")
		return false
	case needsKey && p.APIKey == "":
		log.Info().Str("provider", name).Msg("provider has no api key; skipping")
		return false
	}
	return true
}

func rateSources(cfg config.Config, log zerolog.Logger) []provider.Source[string, provider.RateTable] {
	timeout := time.Duration(cfg.Providers.TimeoutSec) * time.Second
	ps := cfg.Providers
	var out []provider.Source[string, provider.RateTable]
	if usable("ExchangeRate-API", ps.ExchangeRateAPI, false, log) {
		out = append(out, gate[string, provider.RateTable](fxrates.NewExchangeRateAPI(providerClient(ps.ExchangeRateAPI, timeout, log)), ps.ExchangeRateAPI))
	}
	if usable("Fixer", ps.Fixer, true, log) {
		out = append(out, gate[string, provider.RateTable](fxrates.NewFixer(ps.Fixer.APIKey, providerClient(ps.Fixer, timeout, log)), ps.Fixer))
	}
	if usable("CurrencyLayer", ps.CurrencyLayer, true, log) {
		out = append(out, gate[string, provider.RateTable](fxrates.NewCurrencyLayer(ps.CurrencyLayer.APIKey, providerClient(ps.CurrencyLayer, timeout, log)), ps.CurrencyLayer))
	}
	return out
}

func metalSources(cfg config.Config, log zerolog.Logger) []metals.Source {
	timeout := time.Duration(cfg.Providers.TimeoutSec) * time.Second
	ps := cfg.Providers
	var out []metals.Source
	if usable("Metals API", ps.MetalsAPI, true, log) {
		src := metals.NewMetalsAPI(metals.MetalsAPIConfig{APIKey: ps.MetalsAPI.APIKey}, providerClient(ps.MetalsAPI, timeout, log), log)
		out = append(out, gate[[]string, []provider.Quote](src, ps.MetalsAPI))
	}
	if usable("Alpha Vantage", ps.AlphaVantage, true, log) {
		src := metals.NewAlphaVantage(metals.AlphaVantageConfig{APIKey: ps.AlphaVantage.APIKey}, providerClient(ps.AlphaVantage, timeout, log), log)
		out = append(out, gate[[]string, []provider.Quote](src, ps.AlphaVantage))
	}
	if ps.ProxyBaseURL != "" {
		hc := providerClient(config.Provider{BaseURL: ps.ProxyBaseURL}, timeout, log)
		for _, p := range ps.MetalsProxies {
			src := metals.NewProxy(metals.ProxyConfig{Name: p.Name, Path: p.Path}, hc)
			out = append(out, gate[[]string, []provider.Quote](src, p.Limits()))
		}
	}
	return out
}

func cryptoSources(cfg config.Config, log zerolog.Logger) []provider.Source[twelvedata.Request, provider.Quote] {
	timeout := time.Duration(cfg.Providers.TimeoutSec) * time.Second
	td := cfg.Providers.TwelveData
	if !usable("Twelve Data", td, true, log) {
		return nil
	}
	src := twelvedata.New(twelvedata.Config{APIKey: td.APIKey}, providerClient(td, timeout, log), log)
	return []provider.Source[twelvedata.Request, provider.Quote]{gate[twelvedata.Request, provider.Quote](src, td)}
}
