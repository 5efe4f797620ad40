package board

import (
	"sort"
	"strings"
	"time"

	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/metals"
)

type Kind string

const (
	KindMetal  Kind = "metal"
	KindCrypto Kind = "crypto"
)

// Key identifies a board row.
type Key struct {
	Symbol   string
	Currency string
}

// Entry is the newest quote per Key.
type Entry struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Kind          Kind      `json:"kind"`
	Currency      string    `json:"currency"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        float64   `json:"volume,omitempty"`
	MarketCap     float64   `json:"market_cap,omitempty"`
	Provider      string    `json:"provider"`
	Synthetic     bool      `json:"synthetic"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// aliasMap normalizes display names of metals to their ISO codes.
var aliasMap = map[string]string{
	"gold":      "XAU",
	"silver":    "XAG",
	"platinum":  "XPT",
	"palladium": "XPD",
}

// NormalizeSymbol maps an instrument id to its board symbol:
//   - metal names to ISO codes (GOLD -> XAU)
//   - quote-currency pairs to the base asset (BTC/USD, BTC-USD -> BTC)
//   - everything upper-cased and trimmed
func NormalizeSymbol(id string) string {
	s := strings.TrimSpace(id)
	if norm, ok := aliasMap[strings.ToLower(s)]; ok {
		return norm
	}
	if i := strings.IndexAny(s, "/-"); i > 0 {
		s = s[:i]
	}
	return strings.ToUpper(s)
}

func KindOf(symbol string) Kind {
	for _, m := range metals.Supported {
		if m.Symbol == symbol {
			return KindMetal
		}
	}
	return KindCrypto
}

func isSynthetic(source string) bool {
	return source == marketdata.FallbackSource || source == marketdata.DemoSource
}

// Merge is Latest with the current time.
func Merge(lists ...[]provider.Quote) []Entry {
	return Latest(time.Now(), lists...)
}

// Latest collapses quotes by (Symbol, Currency) keeping the newest. For equal
// timestamps, later input wins. Zero timestamps are replaced with now. Rows
// are ordered metals first, then by symbol and currency.
func Latest(now time.Time, lists ...[]provider.Quote) []Entry {
	latest := make(map[Key]Entry)
	for _, quotes := range lists {
		for _, q := range quotes {
			sym := NormalizeSymbol(q.InstrumentID)
			if sym == "" {
				continue
			}
			ts := q.Timestamp
			if ts.IsZero() {
				ts = now
			}
			key := Key{Symbol: sym, Currency: strings.ToUpper(q.Currency)}
			if cur, ok := latest[key]; ok && ts.Before(cur.UpdatedAt) {
				continue
			}
			latest[key] = Entry{
				Symbol:        sym,
				Name:          q.Name,
				Kind:          KindOf(sym),
				Currency:      key.Currency,
				Price:         q.Price,
				Change:        q.Change,
				ChangePercent: q.ChangePercent,
				Volume:        q.Volume,
				MarketCap:     q.MarketCap,
				Provider:      q.Source,
				Synthetic:     isSynthetic(q.Source),
				UpdatedAt:     ts,
			}
		}
	}

	out := make([]Entry, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindMetal
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
