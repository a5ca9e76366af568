// Package money holds the fixed-point helpers used for every monetary amount.
// Amounts carry two fractional digits and are rounded half away from zero at write boundaries.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const Scale = 2

var (
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrNegativeAmount = errors.New("negative_amount")
)

var Zero = decimal.Zero

// Round rounds to two fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Parse reads a decimal string such as "12.50" and rounds it.
func Parse(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// RequirePositive rounds d and rejects zero or negative values.
func RequirePositive(d decimal.Decimal) (decimal.Decimal, error) {
	rounded := Round(d)
	if !rounded.IsPositive() {
		return decimal.Zero, ErrNegativeAmount
	}
	return rounded, nil
}

// Percent returns base * rate rounded to cents.
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(rate))
}

// Sum adds amounts without intermediate rounding and rounds the result.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Round(total)
}

// Format renders d with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Scale)
}
