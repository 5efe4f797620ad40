package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string   `yaml:"port"`
	RequestTimeoutSec int      `yaml:"request_timeout_sec"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

type Backend struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	MaxRetries  int    `yaml:"max_retries"`
	RetryBaseMS int    `yaml:"retry_base_ms"`
	RetryMaxMS  int    `yaml:"retry_max_ms"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// Session seeds the headers sent to the backend. An empty user id is replaced
// with an anonymous one at startup.
type Session struct {
	Plan      string `yaml:"plan"`
	Continent string `yaml:"continent"`
	UserID    string `yaml:"user_id"`
}

// Provider is one upstream data vendor.
type Provider struct {
	Enabled               bool   `yaml:"enabled"`
	BaseURL               string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
	MaxRequestsPerMinute  int    `yaml:"max_requests_per_minute"`
	Burst                 int    `yaml:"burst"`
	MinRequestIntervalSec int    `yaml:"min_request_interval_sec"`
}

// Proxy is a metals scraping endpoint mounted under Providers.ProxyBaseURL.
// Each proxy is rate-gated on its own.
type Proxy struct {
	Name                  string `yaml:"name"`
	Path                  string `yaml:"path"`
	MaxRequestsPerMinute  int    `yaml:"max_requests_per_minute"`
	Burst                 int    `yaml:"burst"`
	MinRequestIntervalSec int    `yaml:"min_request_interval_sec"`
}

// Limits returns the proxy's rate gates in Provider form.
func (p Proxy) Limits() Provider {
	return Provider{
		MaxRequestsPerMinute:  p.MaxRequestsPerMinute,
		Burst:                 p.Burst,
		MinRequestIntervalSec: p.MinRequestIntervalSec,
	}
}

// Providers lists sources in chain priority order per quantity.
type Providers struct {
	TimeoutSec      int      `yaml:"timeout_sec"`
	MetalsAPI       Provider `yaml:"metals_api"`
	AlphaVantage    Provider `yaml:"alpha_vantage"`
	ProxyBaseURL    string   `yaml:"proxy_base_url"`
	MetalsProxies   []Proxy  `yaml:"metals_proxies"`
	ExchangeRateAPI Provider `yaml:"exchange_rate_api"`
	Fixer           Provider `yaml:"fixer"`
	CurrencyLayer   Provider `yaml:"currency_layer"`
	TwelveData      Provider `yaml:"twelve_data"`
}

type Rates struct {
	TTLSec      int    `yaml:"ttl_sec"`
	RefreshCron string `yaml:"refresh_cron"`
}

type Cache struct {
	MetalsTTLSec int `yaml:"metals_ttl_sec"`
	CryptoTTLSec int `yaml:"crypto_ttl_sec"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Backend   Backend   `yaml:"backend"`
	Session   Session   `yaml:"session"`
	Providers Providers `yaml:"providers"`
	Rates     Rates     `yaml:"rates"`
	Cache     Cache     `yaml:"cache"`
	Logging   Logging   `yaml:"logging"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15, AllowedOrigins: []string{"*"}},
		Backend: Backend{
			BaseURL:     "http://localhost:8000",
			TimeoutSec:  10,
			MaxRetries:  3,
			RetryBaseMS: 500,
			RetryMaxMS:  10000,
			CacheTTLSec: 60,
		},
		Session: Session{Plan: "free", Continent: "Americas"},
		Providers: Providers{
			TimeoutSec: 5,
			MetalsAPI: Provider{
				Enabled: true,
				BaseURL: "https://metals-api.com",
			},
			AlphaVantage: Provider{
				Enabled:              true,
				BaseURL:              "https://www.alphavantage.co",
				MaxRequestsPerMinute: 5,
				Burst:                5,
			},
			ProxyBaseURL: "http://localhost:3001",
			MetalsProxies: []Proxy{
				{Name: "Yahoo Finance", Path: "/api/yahoo-metals", MaxRequestsPerMinute: 30, Burst: 5},
				{Name: "Kitco", Path: "/api/kitco-metals", MaxRequestsPerMinute: 30, Burst: 5},
			},
			ExchangeRateAPI: Provider{
				Enabled: true,
				BaseURL: "https://api.exchangerate-api.com",
			},
			Fixer: Provider{
				Enabled: true,
				BaseURL: "https://data.fixer.io/api",
			},
			CurrencyLayer: Provider{
				Enabled: true,
				BaseURL: "https://api.currencylayer.com",
			},
			TwelveData: Provider{
				Enabled:              true,
				BaseURL:              "https://api.twelvedata.com",
				MaxRequestsPerMinute: 8,
				Burst:                8,
			},
		},
		Rates:   Rates{TTLSec: 300, RefreshCron: "@every 5m"},
		Cache:   Cache{MetalsTTLSec: 60, CryptoTTLSec: 60},
		Logging: Logging{Level: "info"},
	}
}

// candidates are probed in order when Load is called without a path.
var candidates = []string{"config.yaml", "config.yml", "config.json"}

// Load reads the config file at path (YAML or JSON). If path is empty the
// working directory is probed; a missing file yields defaults. A .env file is
// loaded next and environment variables override file values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port is required")
	}
	if c.Server.RequestTimeoutSec <= 0 {
		return errors.New("server.request_timeout_sec must be positive")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSec <= 0 {
		return errors.New("backend.timeout_sec must be positive")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must not be negative")
	}
	if c.Backend.CacheTTLSec <= 0 {
		return errors.New("backend.cache_ttl_sec must be positive")
	}
	if c.Providers.TimeoutSec <= 0 {
		return errors.New("providers.timeout_sec must be positive")
	}
	if c.Rates.TTLSec <= 0 {
		return errors.New("rates.ttl_sec must be positive")
	}
	if c.Cache.MetalsTTLSec <= 0 || c.Cache.CryptoTTLSec <= 0 {
		return errors.New("cache ttls must be positive")
	}
	if c.Rates.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.Rates.RefreshCron); err != nil {
			return fmt.Errorf("rates.refresh_cron: %w", err)
		}
	}
	return nil
}

func (b Backend) Timeout() time.Duration  { return time.Duration(b.TimeoutSec) * time.Second }
func (b Backend) CacheTTL() time.Duration { return time.Duration(b.CacheTTLSec) * time.Second }

func (b Backend) RetryBase() time.Duration { return time.Duration(b.RetryBaseMS) * time.Millisecond }
func (b Backend) RetryMax() time.Duration  { return time.Duration(b.RetryMaxMS) * time.Millisecond }

func (p Provider) MinInterval() time.Duration {
	return time.Duration(p.MinRequestIntervalSec) * time.Second
}

func applyEnv(cfg *Config) {
	envString("PORT", &cfg.Server.Port)
	envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}

	envString("BACKEND_URL", &cfg.Backend.BaseURL)
	envInt("BACKEND_TIMEOUT_SEC", &cfg.Backend.TimeoutSec)
	envInt("BACKEND_MAX_RETRIES", &cfg.Backend.MaxRetries)
	envInt("BACKEND_CACHE_TTL_SEC", &cfg.Backend.CacheTTLSec)

	envString("SUBSCRIPTION_PLAN", &cfg.Session.Plan)
	envString("SELECTED_CONTINENT", &cfg.Session.Continent)
	envString("USER_ID", &cfg.Session.UserID)

	envInt("PROVIDER_TIMEOUT_SEC", &cfg.Providers.TimeoutSec)
	envString("METALS_API_KEY", &cfg.Providers.MetalsAPI.APIKey)
	envString("ALPHA_VANTAGE_API_KEY", &cfg.Providers.AlphaVantage.APIKey)
	envInt("ALPHA_VANTAGE_MAX_RPM", &cfg.Providers.AlphaVantage.MaxRequestsPerMinute)
	envString("METALS_PROXY_URL", &cfg.Providers.ProxyBaseURL)
	envString("FIXER_API_KEY", &cfg.Providers.Fixer.APIKey)
	envString("CURRENCYLAYER_API_KEY", &cfg.Providers.CurrencyLayer.APIKey)
	envString("TWELVE_DATA_API_KEY", &cfg.Providers.TwelveData.APIKey)
	envInt("TWELVE_DATA_MAX_RPM", &cfg.Providers.TwelveData.MaxRequestsPerMinute)

	envInt("RATES_TTL_SEC", &cfg.Rates.TTLSec)
	envString("RATES_REFRESH_CRON", &cfg.Rates.RefreshCron)

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envBool("LOG_PRETTY", &cfg.Logging.Pretty)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envInt ignores values that do not parse.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = x
		}
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
