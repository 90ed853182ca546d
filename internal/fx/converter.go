package fx

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetCurrency is the currency every award is converted to.
const TargetCurrency = "USD"

// Converter converts amounts to USD through a RateSource.
type Converter struct {
	rates RateSource
}

// NewConverter creates a converter over rates. A nil source converts only
// amounts that are already in USD.
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert returns amount in USD using the rates in effect on asOf, rounded
// to cents. The boolean is false when either leg of the conversion has no
// rate; callers treat that as advisory and leave the USD amount unset.
func (c *Converter) Convert(amount decimal.Decimal, code string, asOf time.Time) (decimal.Decimal, bool) {
	code = normalizeCode(code)
	if code == TargetCurrency {
		return amount, true
	}

	if c.rates == nil || code == "" {
		return decimal.Zero, false
	}

	from, ok := c.rates.Rate(code, asOf)
	if !ok {
		return decimal.Zero, false
	}

	to, ok := c.rates.Rate(TargetCurrency, asOf)
	if !ok {
		return decimal.Zero, false
	}

	return amount.Div(from).Mul(to).Round(2), true
}

// AwardYearDate is the date whose rates apply to an award made in year:
// the first calendar day of that year.
func AwardYearDate(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
