// Package format turns numeric values into display strings. Nothing here holds state.
package format

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"btc": "₿",
}

// Symbol returns the display symbol for a currency code, or the upper-cased code
// followed by a space when no symbol is known.
func Symbol(currency string) string {
	if s, ok := currencySymbols[strings.ToLower(currency)]; ok {
		return s
	}
	return strings.ToUpper(currency) + " "
}

// Price formats a price with a currency symbol, thousands grouping and two decimals
func Price(value float64, currency string) string {
	return Symbol(currency) + Grouped(value, 2)
}

// Supply formats a coin amount rounded to a whole number with grouping
func Supply(value float64) string {
	return Grouped(value, 0)
}

// Grouped formats value with the given number of decimals and comma separators
func Grouped(value float64, places int32) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "-"
	}
	s := decimal.NewFromFloat(value).StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if sign == "-" && strings.Trim(intPart+frac, "0.") == "" {
		sign = ""
	}
	return sign + groupThousands(intPart) + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

var magnitudes = []struct {
	threshold float64
	suffix    string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

// Stat abbreviates large 24h statistics (volume, market cap) as 1.23K, 4.56M, ...
func Stat(value float64) string {
	abs := math.Abs(value)
	for _, m := range magnitudes {
		if abs >= m.threshold {
			return decimal.NewFromFloat(value/m.threshold).StringFixed(2) + m.suffix
		}
	}
	return decimal.NewFromFloat(value).StringFixed(2)
}

// Percent formats a percent change with an explicit sign. Small magnitudes get extra
// decimal places so near-zero moves stay visible; a move too small for four places
// reads as unchanged.
func Percent(p float64) string {
	if PercentIsZero(p) {
		return "0.00%"
	}
	s := decimal.NewFromFloat(p).StringFixed(percentPlaces(p))
	if p > 0 {
		s = "+" + s
	}
	return s + "%"
}

// PercentIsZero reports whether Percent would render p as unchanged
func PercentIsZero(p float64) bool {
	if p == 0 || math.IsNaN(p) {
		return true
	}
	return decimal.NewFromFloat(p).Round(percentPlaces(p)).IsZero()
}

func percentPlaces(p float64) int32 {
	switch abs := math.Abs(p); {
	case abs < 0.01:
		return 4
	case abs < 0.1:
		return 3
	}
	return 2
}

// Title is the page title shown while a live price is known
func Title(price float64, currency string) string {
	return fmt.Sprintf("%s · ZEC", Price(price, currency))
}

// Round2 rounds to two decimal places (cents, or hundredths of a coin)
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// ZEC converts an integer zatoshi amount to ZEC
func ZEC(zatoshi int64) float64 {
	f, _ := decimal.New(zatoshi, -8).Float64()
	return f
}
