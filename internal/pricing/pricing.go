// Package pricing converts supplier cost into resale price and margin and
// normalizes adapter candidates into canonical products.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FallbackPrice is used when a listing's price text cannot be parsed.
const FallbackPrice = 10.0

var hundred = decimal.NewFromInt(100)

// Margin returns max(0, (price-cost)/price*100) rounded to one decimal.
// A non-positive price yields 0.
func Margin(price, cost float64) float64 {
	p := decimal.NewFromFloat(price)
	if !p.IsPositive() {
		return 0
	}
	m := p.Sub(decimal.NewFromFloat(cost)).Div(p).Mul(hundred).Round(1)
	if m.IsNegative() {
		return 0
	}
	return m.InexactFloat64()
}

// ApplyMarkup turns a supplier cost into a resale price rounded to cents.
func ApplyMarkup(cost, multiplier float64) float64 {
	return decimal.NewFromFloat(cost).Mul(decimal.NewFromFloat(multiplier)).Round(2).InexactFloat64()
}

// ParsePrice extracts a number from noisy listing text such as "$1,234.56",
// "1.234,56 €" or "US $12". It returns fallback when nothing parses.
func ParsePrice(text string, fallback float64) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, firstPriceToken(text))
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" {
		return fallback
	}
	cleaned = normalizeSeparators(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d.Round(2).InexactFloat64()
}

// firstPriceToken drops the upper bound of ranges like "$10.00 to $15.00".
func firstPriceToken(text string) string {
	for _, sep := range []string{" to ", " - ", "–"} {
		if idx := strings.Index(text, sep); idx > 0 {
			return text[:idx]
		}
	}
	return text
}

// normalizeSeparators resolves thousands and decimal separators to a plain
// dotted decimal. With both marks present the right-most one is the decimal
// point; a lone mark followed by exactly three digits groups thousands.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	mark := max(lastDot, lastComma)
	if mark < 0 {
		return s
	}
	strip := strings.NewReplacer(".", "", ",", "")
	mixed := lastDot >= 0 && lastComma >= 0
	if !mixed && (len(s)-mark-1 == 3 || strings.Count(s, s[mark:mark+1]) > 1) {
		return strip.Replace(s)
	}
	return strip.Replace(s[:mark]) + "." + s[mark+1:]
}
