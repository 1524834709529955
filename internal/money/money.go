// Package money provides currency code validation, minor-unit scales and
// exact rounding for ledger amounts.
//
// Amounts are shopspring decimals throughout. Rounding is half-up at the
// currency's minor-unit scale; ledger amounts are never negative when they
// are rounded, so decimal's half-away-from-zero Round is half-up here.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultScale is used for codes that are not ISO 4217 currencies.
const DefaultScale int32 = 2

var (
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// NormalizeCode upper-cases and validates a currency code: 3 to 8 ASCII
// letters or digits.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < 3 || len(code) > 8 {
		return "", fmt.Errorf("%w: %q must be 3-8 characters", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return code, nil
}

// Scale returns the number of minor-unit digits for code (USD 2, JPY 0, BHD 3).
func Scale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return DefaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// RoundHalfUp rounds d to scale decimal places, ties away from zero.
func RoundHalfUp(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// Convert multiplies amount by rate and rounds the product once at scale.
func Convert(amount, rate decimal.Decimal, scale int32) decimal.Decimal {
	return RoundHalfUp(amount.Mul(rate), scale)
}

// FitsScale reports whether d has no digits beyond scale.
func FitsScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale))
}

// ValidateTotal checks that a transaction total is non-negative and
// representable in code's minor units.
func ValidateTotal(total decimal.Decimal, code string) error {
	if total.IsNegative() {
		return fmt.Errorf("%w: total %s is negative", ErrInvalidAmount, total)
	}
	if scale := Scale(code); !FitsScale(total, scale) {
		return fmt.Errorf("%w: total %s has more than %d decimal places for %s", ErrInvalidAmount, total, scale, code)
	}
	return nil
}

// Parse reads a decimal amount, accepting a comma as decimal separator.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// Format renders d with exactly code's minor-unit digits.
func Format(d decimal.Decimal, code string) string {
	return d.StringFixed(Scale(code))
}
