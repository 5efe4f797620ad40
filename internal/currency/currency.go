// Package currency maps instruments and countries to currencies, supplies the
// hardcoded exchange-rate fallback and formats amounts for display.
package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketdata/internal/provider"
)

// Base is the currency every rate table is quoted against.
const Base = "USD"

// ErrUnknownCountry is returned for a country code outside the Countries table.
var ErrUnknownCountry = errors.New("country not supported")

// suffixes maps an exchange suffix on an instrument id to its trading currency.
var suffixes = map[string]string{
	".NS": "INR", ".BO": "INR",
	".L":  "GBP",
	".T":  "JPY",
	".DE": "EUR", ".PA": "EUR", ".AS": "EUR", ".MI": "EUR", ".MC": "EUR", ".HE": "EUR",
	".SS": "CNY", ".SZ": "CNY",
	".HK": "HKD",
	".AX": "AUD",
	".TO": "CAD",
	".SW": "CHF",
	".KS": "KRW",
	".SA": "BRL",
	".SI": "SGD",
	".ST": "SEK",
	".OL": "NOK",
	".CO": "DKK",
	".TA": "ILS",
	".NZ": "NZD",
	".JO": "ZAR",
	".AE": "AED", ".DU": "AED",
	".SR": "SAR",
	".QA": "QAR",
}

// ForInstrument returns the trading currency of an instrument id such as
// RELIANCE.NS or 7203.T. Ids without a known suffix trade in USD.
func ForInstrument(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		if cur, ok := suffixes[id[i:]]; ok {
			return cur
		}
	}
	return Base
}

// Country is a supported country with its static USD conversion rate.
type Country struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Rate     float64 `json:"exchange_rate"`
}

var countries = map[string]Country{
	"US": {Code: "US", Name: "United States", Currency: "USD", Rate: 1},
	"IN": {Code: "IN", Name: "India", Currency: "INR", Rate: 83.5},
	"JP": {Code: "JP", Name: "Japan", Currency: "JPY", Rate: 150},
	"GB": {Code: "GB", Name: "United Kingdom", Currency: "GBP", Rate: 0.79},
	"DE": {Code: "DE", Name: "Germany", Currency: "EUR", Rate: 0.92},
	"CA": {Code: "CA", Name: "Canada", Currency: "CAD", Rate: 1.36},
	"AU": {Code: "AU", Name: "Australia", Currency: "AUD", Rate: 1.52},
	"CN": {Code: "CN", Name: "China", Currency: "CNY", Rate: 7.25},
	"BR": {Code: "BR", Name: "Brazil", Currency: "BRL", Rate: 5.12},
	"RU": {Code: "RU", Name: "Russia", Currency: "RUB", Rate: 92.5},
	"KR": {Code: "KR", Name: "South Korea", Currency: "KRW", Rate: 1330},
	"MX": {Code: "MX", Name: "Mexico", Currency: "MXN", Rate: 17.2},
}

// Countries returns the supported countries sorted by code.
func Countries() []Country {
	out := make([]Country, 0, len(countries))
	for _, c := range countries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func CountryByCode(code string) (Country, error) {
	c, ok := countries[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Country{}, fmt.Errorf("%w: %q", ErrUnknownCountry, code)
	}
	return c, nil
}

// FallbackRates returns the hardcoded USD rate table used when no rate source
// is reachable. Each call returns a fresh copy.
func FallbackRates() provider.RateTable {
	rates := make(map[string]float64, len(countries))
	for _, c := range countries {
		rates[c.Currency] = c.Rate
	}
	return provider.RateTable{Base: Base, Rates: rates, Source: "Fallback Data"}
}

// Rate looks code up in t, then in the fallback table. An unknown currency
// yields 1 and false so conversion never fails outright.
func Rate(t provider.RateTable, code string) (float64, bool) {
	if r, ok := t.Lookup(code); ok {
		return r, true
	}
	if r, ok := FallbackRates().Lookup(code); ok {
		return r, true
	}
	return 1, false
}

// Convert multiplies amount by rate in decimal arithmetic, so that e.g.
// 2347.85 * 83.5 comes out as 196045.475 rather than a float artefact.
func Convert(amount, rate float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Float64()
	return f
}
