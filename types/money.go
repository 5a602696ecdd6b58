// Package types provides the value types shared by every ledger package:
// integer money, hour quantities, tax percentages and entity timestamps.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a caller does not name a currency.
const DefaultCurrency = "eur"

// ErrPrecision is returned when a decimal string carries more fractional
// digits than the target unit can hold.
var ErrPrecision = errors.New("types: excess precision")

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only; rounding goes through decimal.Decimal
// and is always half-to-even.
//
// Examples:
//   - EUR(15000) = €150.00
//   - USD(4900)  = $49.00
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (cents)
	Currency string `json:"currency"` // ISO 4217 lowercase: "eur", "usd"
}

// New creates a Money value in the given currency.
func New(minor int64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: minor, Currency: strings.ToLower(currency)}
}

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return New(0, currency) }

// ParseMoney parses a major-unit string such as "150.00" into minor units.
// Strings with more fractional digits than the currency allows are rejected
// rather than truncated.
func ParseMoney(s, currency string) (Money, error) {
	m := Zero(currency)
	minor, err := parseScaled(s, currencyDecimals(m.Currency))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	m.Amount = minor
	return m, nil
}

// Arithmetic operations

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by an integer quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// MulRatio returns m × num / den rounded half-to-even to the minor unit.
func (m Money) MulRatio(num, den int64) Money {
	if den == 0 {
		panic("money: division by zero")
	}
	v := decimal.NewFromInt(m.Amount).
		Mul(decimal.NewFromInt(num)).
		Div(decimal.NewFromInt(den)).
		RoundBank(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// Compare returns -1, 0 or +1. Panics if currencies don't match.
func (m Money) Compare(other Money) int {
	m.assertSameCurrency(other)
	switch {
	case m.Amount < other.Amount:
		return -1
	case m.Amount > other.Amount:
		return 1
	default:
		return 0
	}
}

// LessThan returns true if this Money is less than other.
func (m Money) LessThan(other Money) bool { return m.Compare(other) < 0 }

// GreaterThan returns true if this Money is greater than other.
func (m Money) GreaterThan(other Money) bool { return m.Compare(other) > 0 }

// Formatting methods

// FormatMajor returns the major unit string without currency symbol,
// e.g. "525.00" for EUR(52500).
func (m Money) FormatMajor() string {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency))).
		StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// Sum adds values in the given currency. An empty list is zero.
func Sum(currency string, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "eur":
		return "€"
	case "usd":
		return "$"
	case "gbp":
		return "£"
	case "chf":
		return "CHF "
	default:
		return strings.ToUpper(currency) + " "
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "clp", "isk":
		return 0
	default:
		return 2
	}
}

// parseScaled parses a decimal string into an integer scaled by 10^places.
func parseScaled(s string, places int) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	shifted := d.Shift(int32(places))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrPrecision
	}
	if !shifted.BigInt().IsInt64() {
		return 0, errors.New("out of range")
	}
	return shifted.IntPart(), nil
}
