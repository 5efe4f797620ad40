package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/httpx"
)

// newTestRouter serves the API with every third-party provider switched off,
// so metals, rates and crypto come from the built-in fallback tables, and the
// backend pointed at be.
func newTestRouter(t *testing.T, be http.Handler) http.Handler {
	t.Helper()
	srv := httptest.NewServer(be)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.MaxRetries = 0
	cfg.Providers.MetalsAPI.Enabled = false
	cfg.Providers.AlphaVantage.Enabled = false
	cfg.Providers.ExchangeRateAPI.Enabled = false
	cfg.Providers.Fixer.Enabled = false
	cfg.Providers.CurrencyLayer.Enabled = false
	cfg.Providers.TwelveData.Enabled = false
	cfg.Providers.ProxyBaseURL = ""

	return newRouter(app.Build(cfg, zerolog.Nop()), 5*time.Second)
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func noBackend(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected backend call %s", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestMetals_FallbackForCountry(t *testing.T) {
	t.Parallel()

	// Act
	rr := get(t, newTestRouter(t, noBackend(t)), "/api/metals/in", nil)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	type metal struct {
		InstrumentID string  `json:"instrument_id"`
		Price        float64 `json:"price"`
		Currency     string  `json:"currency"`
	}
	resp := decode[struct {
		Currency  string  `json:"currency"`
		Source    string  `json:"source"`
		Synthetic bool    `json:"synthetic"`
		Metals    []metal `json:"metals"`
	}](t, rr)
	require.Equal(t, "INR", resp.Currency)
	require.True(t, resp.Synthetic)
	require.Equal(t, "Fallback Data", resp.Source)
	require.Len(t, resp.Metals, 4)
	require.Equal(t, "XAU", resp.Metals[0].InstrumentID)
	require.InDelta(t, 2347.85*83.5, resp.Metals[0].Price, 0.01)
	require.Equal(t, "INR", resp.Metals[0].Currency)
}

func TestMetals_UnknownCountryIs404(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/api/metals/ZZ", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBoard_MetalsFirstWithFormattedPrices(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/api/board", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	type row struct {
		Symbol    string `json:"symbol"`
		Kind      string `json:"kind"`
		Currency  string `json:"currency"`
		PriceText string `json:"price_text"`
		Synthetic bool   `json:"synthetic"`
	}
	resp := decode[struct {
		Country  string `json:"country"`
		Currency string `json:"currency"`
		Entries  []row  `json:"entries"`
	}](t, rr)

	require.Equal(t, "US", resp.Country)
	require.Len(t, resp.Entries, 14)
	for i, e := range resp.Entries {
		if i < 4 {
			require.Equal(t, "metal", e.Kind, e.Symbol)
		} else {
			require.Equal(t, "crypto", e.Kind, e.Symbol)
		}
		require.Equal(t, "USD", e.Currency)
		require.True(t, strings.HasPrefix(e.PriceText, "$"), e.PriceText)
		require.True(t, e.Synthetic)
	}
	require.Equal(t, "XAG", resp.Entries[0].Symbol)
	require.Equal(t, "ADA", resp.Entries[4].Symbol)
}

func TestCrypto_DemoQuotesInRequestedCurrency(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/api/crypto?symbols=btc,ETH,NOPE&currency=inr", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	type quote struct {
		InstrumentID string  `json:"instrument_id"`
		Price        float64 `json:"price"`
		Currency     string  `json:"currency"`
	}
	resp := decode[struct {
		Currency string  `json:"currency"`
		Quotes   []quote `json:"quotes"`
	}](t, rr)
	require.Equal(t, "INR", resp.Currency)
	require.Len(t, resp.Quotes, 2)
	require.Equal(t, "INR", resp.Quotes[0].Currency)
	require.InDelta(t, 75234.50*83.5, resp.Quotes[0].Price, 0.01)
}

func TestRates_FallbackTable(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/api/rates", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[map[string]any](t, rr)
	require.Equal(t, "Fallback Data", resp["source"])
	require.NotContains(t, resp, "fetched_at")
}

func TestStock_ForwardsSessionAndRendersRestriction(t *testing.T) {
	t.Parallel()

	// Arrange: the backend restricts Indian stocks for the free plan.
	be := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stocks/RELIANCE.NS", r.URL.Path)
		assert.Equal(t, "free", r.Header.Get(httpx.HeaderPlan))
		assert.Equal(t, "Asia", r.Header.Get(httpx.HeaderContinent))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":{"code":"MARKET_RESTRICTED","market":"Indian","currentPlan":"free","requiredPlan":"premium","message":"Upgrade required"}}`))
	})
	h := newTestRouter(t, be)

	// Act
	rr := get(t, h, "/api/stocks/RELIANCE.NS", http.Header{
		httpx.HeaderPlan:      {"free"},
		httpx.HeaderContinent: {"Asia"},
	})

	// Assert
	require.Equal(t, http.StatusForbidden, rr.Code)
	resp := decode[struct {
		Detail struct {
			Code         string `json:"code"`
			Market       string `json:"market"`
			RequiredPlan string `json:"requiredPlan"`
		} `json:"detail"`
	}](t, rr)
	require.Equal(t, "MARKET_RESTRICTED", resp.Detail.Code)
	require.Equal(t, "Indian", resp.Detail.Market)
	require.Equal(t, "premium", resp.Detail.RequiredPlan)
}

func TestStock_FillsCurrencyFromSuffix(t *testing.T) {
	t.Parallel()

	be := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"VOD.L","price":72.1}`))
	})
	rr := get(t, newTestRouter(t, be), "/api/stocks/VOD.L", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[map[string]any](t, rr)
	require.Equal(t, "GBP", resp["currency"])
}

func TestBackendStatusIsKept(t *testing.T) {
	t.Parallel()

	be := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	rr := get(t, newTestRouter(t, be), "/api/stocks/NOPE/chart?period=1y", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBackendUnreachableIs502(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	h := newRouter(app.Build(cfg, zerolog.Nop()), 5*time.Second)

	rr := get(t, h, "/api/stocks/AAPL/technical", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestPredict(t *testing.T) {
	t.Parallel()

	be := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("days") == "5" {
			_, _ = w.Write([]byte(`{"ticker":"AAPL","error":"model not trained"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ticker":"AAPL","signal":"BUY","confidence":0.7}`))
	})
	h := newTestRouter(t, be)

	rr := get(t, h, "/api/ml/predict/aapl", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "BUY", decode[map[string]any](t, rr)["signal"])

	rr = get(t, h, "/api/ml/predict/aapl?days=5", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = get(t, h, "/api/ml/predict/aapl?days=soon", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearch_ShortQueryMakesNoBackendCall(t *testing.T) {
	t.Parallel()

	rr := get(t, newTestRouter(t, noBackend(t)), "/api/stocks/search?q=a", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"results":null}`, rr.Body.String())
}
