package fxrates_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/fxrates"
)

func serve(t *testing.T, path, body string) *httpx.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return httpx.New(time.Second, httpx.WithBaseURL(srv.URL), httpx.WithRetry(httpx.RetryPolicy{}))
}

func TestExchangeRateAPI_Fetch(t *testing.T) {
	t.Parallel()

	// Arrange
	hc := serve(t, "/v4/latest/USD", `{"base":"USD","time_last_updated":1741564801,"rates":{"USD":1,"INR":86.9,"eur":0.92,"BAD":0}}`)

	// Act
	tbl, err := fxrates.NewExchangeRateAPI(hc).Fetch(t.Context(), "usd")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "USD", tbl.Base)
	require.Equal(t, "ExchangeRate-API", tbl.Source)
	require.Equal(t, map[string]float64{"USD": 1, "INR": 86.9, "EUR": 0.92}, tbl.Rates)
	require.Equal(t, time.Unix(1741564801, 0).UTC(), tbl.Timestamp)
}

func TestFixer_Fetch(t *testing.T) {
	t.Parallel()

	hc := serve(t, "/latest", `{"success":true,"timestamp":1741564801,"base":"USD","rates":{"JPY":147.5}}`)
	tbl, err := fxrates.NewFixer("key", hc).Fetch(t.Context(), "USD")
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"JPY": 147.5}, tbl.Rates)

	hc = serve(t, "/latest", `{"success":false,"error":{"code":105,"type":"base_currency_access_restricted"}}`)
	_, err = fxrates.NewFixer("key", hc).Fetch(t.Context(), "USD")
	require.ErrorContains(t, err, "base_currency_access_restricted")

	_, err = fxrates.NewFixer("", hc).Fetch(t.Context(), "USD")
	require.ErrorIs(t, err, provider.ErrNotConfigured)
}

func TestCurrencyLayer_StripsPairPrefix(t *testing.T) {
	t.Parallel()

	hc := serve(t, "/live", `{"success":true,"source":"USD","quotes":{"USDINR":83.1,"USDGBP":0.78,"USD":1,"EURUSD":1.1}}`)
	tbl, err := fxrates.NewCurrencyLayer("key", hc).Fetch(t.Context(), "USD")

	require.NoError(t, err)
	require.Equal(t, map[string]float64{"INR": 83.1, "GBP": 0.78}, tbl.Rates)
	require.Equal(t, "CurrencyLayer", tbl.Source)

	_, err = fxrates.NewCurrencyLayer("", hc).Fetch(t.Context(), "USD")
	require.ErrorIs(t, err, provider.ErrNotConfigured)
}
