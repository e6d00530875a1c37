// Package core provides money parsing and handling utilities.
//
// Amounts are stored as integer cents. Arithmetic that involves rates or
// ratios goes through shopspring/decimal and is rounded back to cents with
// half-up rounding.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. The result is always positive cents.
// Returns an error for invalid formats, negative values, or zero amounts.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (rounds up)
//	ParseDecimalToCents("12.344") -> 1234, nil (rounds down)
func ParseDecimalToCents(s string) (int64, error) {
	cents, err := ParseSignedCents(s)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseSignedCents is like ParseDecimalToCents but accepts a leading sign,
// zero, and thousands separators written as spaces. Commission rows carry
// negative balances, so the source adapters use this variant.
func ParseSignedCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "RON"), "lei")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64-1 {
		return 0, ErrInvalidAmount
	}
	// Take first two fractional digits; then half-up rounding on third
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if negative {
		cents = -cents
	}
	return cents, nil
}

// MoneyFromDecimal rounds a RON amount to cents, half away from zero.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Mul(hundred).Round(0).IntPart()}
}

// MoneyFromFloat is used by adapters whose upstream API returns floats.
func MoneyFromFloat(f float64) Money {
	return MoneyFromDecimal(decimal.NewFromFloat(f))
}

// Decimal returns the amount in RON as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Units returns the value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsPositive() bool  { return m.Cents > 0 }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

// String renders the amount with two decimals, e.g. "1234.56" or "-0.05".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// SumMoney adds up a list of amounts.
func SumMoney(ms ...Money) Money {
	var total Money
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// EURRate is the fixed number of RON per EUR used for display conversion
// and for evaluating EUR-denominated commission tiers.
type EURRate struct {
	RonPerEur decimal.Decimal
}

// NewEURRate validates the rate.
func NewEURRate(ronPerEur decimal.Decimal) (EURRate, error) {
	if !ronPerEur.IsPositive() {
		return EURRate{}, ErrInvalidRate
	}
	return EURRate{RonPerEur: ronPerEur}, nil
}

// ToEUR converts a RON amount to EUR cents, half-up.
func (r EURRate) ToEUR(m Money) Money {
	if r.RonPerEur.IsZero() {
		return Money{}
	}
	return MoneyFromDecimal(m.Decimal().Div(r.RonPerEur))
}
