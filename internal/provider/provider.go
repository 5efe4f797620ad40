package provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned by a source that lacks credentials or an endpoint.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrEmptyResult marks a well-formed response that carries no usable data.
	ErrEmptyResult = errors.New("provider returned an empty result")
)

// Quote is the normalized shape returned by all providers.
type Quote struct {
	InstrumentID  string    `json:"instrument_id"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        float64   `json:"volume,omitempty"`
	MarketCap     float64   `json:"market_cap,omitempty"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// RateTable maps currency codes to their rate against Base.
type RateTable struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
}

// Lookup returns the rate for code. The base currency is always 1.
func (t RateTable) Lookup(code string) (float64, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" && code == strings.ToUpper(t.Base) {
		return 1, true
	}
	r, ok := t.Rates[code]
	if !ok || r <= 0 {
		return 0, false
	}
	return r, true
}

func (t RateTable) Len() int { return len(t.Rates) }

// Source is one data provider for a request of type Req.
type Source[Req, T any] interface {
	Name() string
	Fetch(ctx context.Context, req Req) (T, error)
}

// Func adapts a function to a Source.
type Func[Req, T any] struct {
	ID string
	F  func(ctx context.Context, req Req) (T, error)
}

func (f Func[Req, T]) Name() string { return f.ID }

func (f Func[Req, T]) Fetch(ctx context.Context, req Req) (T, error) { return f.F(ctx, req) }

// EmptyQuotes reports whether a quote list carries no usable entries.
func EmptyQuotes(qs []Quote) bool {
	for _, q := range qs {
		if q.Price > 0 {
			return false
		}
	}
	return true
}

// EmptyRates reports whether a rate table has no rates.
func EmptyRates(t RateTable) bool { return t.Len() == 0 }
