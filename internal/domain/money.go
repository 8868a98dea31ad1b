package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "usd"

var hundred = decimal.NewFromInt(100)

// Quantize rounds d half-up to two decimal places.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts a major-unit amount to cents, rounding half-up.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// NormalizeCurrency lowercases a currency code, defaulting to usd.
func NormalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
