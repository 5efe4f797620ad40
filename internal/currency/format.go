package currency

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Info is display metadata for a currency.
type Info struct {
	Code          string `json:"code"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	DecimalPlaces int32  `json:"decimal_places"`
}

var infos = map[string]Info{
	"USD": {"USD", "$", "US Dollar", 2},
	"INR": {"INR", "₹", "Indian Rupee", 2},
	"JPY": {"JPY", "¥", "Japanese Yen", 0},
	"EUR": {"EUR", "€", "Euro", 2},
	"GBP": {"GBP", "£", "British Pound", 2},
	"CAD": {"CAD", "C$", "Canadian Dollar", 2},
	"AUD": {"AUD", "A$", "Australian Dollar", 2},
	"HKD": {"HKD", "HK$", "Hong Kong Dollar", 2},
	"SGD": {"SGD", "S$", "Singapore Dollar", 2},
	"CHF": {"CHF", "CHF", "Swiss Franc", 2},
	"KRW": {"KRW", "₩", "South Korean Won", 0},
	"BRL": {"BRL", "R$", "Brazilian Real", 2},
	"MXN": {"MXN", "MX$", "Mexican Peso", 2},
	"RUB": {"RUB", "₽", "Russian Ruble", 2},
	"CNY": {"CNY", "¥", "Chinese Yuan", 2},
	"TRY": {"TRY", "₺", "Turkish Lira", 2},
	"ZAR": {"ZAR", "R", "South African Rand", 2},
	"ILS": {"ILS", "₪", "Israeli Shekel", 2},
	"THB": {"THB", "฿", "Thai Baht", 2},
	"MYR": {"MYR", "RM", "Malaysian Ringgit", 2},
	"IDR": {"IDR", "Rp", "Indonesian Rupiah", 0},
	"PHP": {"PHP", "₱", "Philippine Peso", 2},
	"VND": {"VND", "₫", "Vietnamese Dong", 0},
}

// InfoFor returns display metadata for code, or USD's for unknown codes.
func InfoFor(code string) Info {
	if i, ok := infos[strings.ToUpper(code)]; ok {
		return i
	}
	return infos[Base]
}

// grouped renders v with thousands separators and exactly places decimals.
func grouped(v float64, places int32) string {
	d := decimal.NewFromFloat(v).Round(places)
	neg := d.IsNegative()
	d = d.Abs()
	s := humanize.Comma(d.IntPart())
	if places > 0 {
		fixed := d.StringFixed(places)
		s += fixed[strings.IndexByte(fixed, '.'):]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Format renders v with the currency symbol and its usual decimal places.
func Format(v float64, code string) string {
	i := InfoFor(code)
	return i.Symbol + grouped(v, i.DecimalPlaces)
}

// FormatPrice renders a price with the currency symbol and two decimals.
func FormatPrice(v float64, code string) string {
	return InfoFor(code).Symbol + grouped(v, 2)
}

// FormatChange renders a signed change: +$12.45, -₹1,037.50.
func FormatChange(v float64, code string) string {
	sign := ""
	switch {
	case v > 0:
		sign = "+"
	case v < 0:
		sign = "-"
		v = -v
	}
	return sign + InfoFor(code).Symbol + grouped(v, 2)
}

// FormatChangePercent renders a signed percentage with two decimals.
func FormatChangePercent(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	if v > 0 {
		s = "+" + s
	}
	return s + "%"
}

var magnitudes = []struct {
	limit  float64
	suffix string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

func compact(v float64, places int32, minLimit float64) string {
	for _, m := range magnitudes {
		if m.limit >= minLimit && v >= m.limit {
			return grouped(v/m.limit, places) + m.suffix
		}
	}
	return grouped(v, places)
}

// FormatVolume renders a traded volume without a symbol: 28.50B, 1.25K.
func FormatVolume(v float64, code string) string {
	return compact(v, InfoFor(code).DecimalPlaces, 1e3)
}

// FormatMarketCap renders a market capitalization compactly: $1.48T.
func FormatMarketCap(v float64, code string) string {
	i := InfoFor(code)
	return i.Symbol + compact(v, i.DecimalPlaces, 1e6)
}
