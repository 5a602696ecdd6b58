package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Hours is a duration of billable work in hundredths of an hour.
// 3.5 hours is Hours(350).
type Hours int64

// MaxHours is the largest quantity a single entry may record (999.99 h).
const MaxHours Hours = 99999

// ParseHours parses "3.5" or "3.50" into Hours. More than two fractional
// digits is an error.
func ParseHours(s string) (Hours, error) {
	v, err := parseScaled(s, 2)
	if err != nil {
		return 0, fmt.Errorf("hours: parse %q: %w", s, err)
	}
	return Hours(v), nil
}

// String renders the quantity with two decimals, e.g. "3.50".
func (h Hours) String() string {
	return decimal.New(int64(h), -2).StringFixed(2)
}

// Valid reports whether h lies in the recordable range.
func (h Hours) Valid() bool { return h >= 0 && h <= MaxHours }

// Percent is a rate in hundredths of a percent (basis points).
// 20% is Percent(2000).
type Percent int64

// MaxPercent is 100%.
const MaxPercent Percent = 10000

// ParsePercent parses "20" or "7.25" into Percent.
func ParsePercent(s string) (Percent, error) {
	v, err := parseScaled(s, 2)
	if err != nil {
		return 0, fmt.Errorf("percent: parse %q: %w", s, err)
	}
	return Percent(v), nil
}

// String renders the rate with two decimals and a percent sign.
func (p Percent) String() string {
	return decimal.New(int64(p), -2).StringFixed(2) + "%"
}

// Valid reports whether p lies in [0%, 100%].
func (p Percent) Valid() bool { return p >= 0 && p <= MaxPercent }

// BillingAmount is the amount charged for hours of work at an hourly rate,
// rounded half-to-even to the minor unit.
func BillingAmount(hours Hours, rate Money) Money {
	return rate.MulRatio(int64(hours), 100)
}

// Tax applies a percentage to subtotal, rounded half-to-even.
func Tax(subtotal Money, rate Percent) Money {
	return subtotal.MulRatio(int64(rate), 10000)
}
