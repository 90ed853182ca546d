// Package fx converts award amounts to USD from a preloaded, date-indexed
// exchange-rate table. Tables are immutable once built and safe for
// concurrent use; no lookup performs I/O.
package fx

import (
	"slices"
	"sort"
	"strings"
	"time"

	"grantflow/internal/models"

	"github.com/shopspring/decimal"
)

// RateSource yields the rate of code against the source's base currency in
// effect on a date, expressed as units of code per one unit of base.
type RateSource interface {
	Rate(code string, on time.Time) (decimal.Decimal, bool)
}

// Observation is one published rate.
type Observation struct {
	Date time.Time
	Rate decimal.Decimal
	Code string
}

type series struct {
	dates []time.Time
	rates []decimal.Decimal
}

// Table is an in-memory RateSource.
type Table struct {
	series      map[string]*series
	base        string
	maxLookback time.Duration
}

// NewTable indexes observations by currency and date. A lookup on a date
// without an observation (weekends, holidays, January 1st) falls back to the
// most recent earlier observation no more than maxLookbackDays old.
func NewTable(base string, maxLookbackDays int, observations []Observation) *Table {
	t := &Table{
		series:      make(map[string]*series),
		base:        normalizeCode(base),
		maxLookback: time.Duration(maxLookbackDays) * 24 * time.Hour,
	}

	sorted := slices.Clone(observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	for _, o := range sorted {
		code := normalizeCode(o.Code)
		if code == "" || code == t.base || !o.Rate.IsPositive() {
			continue
		}

		s, ok := t.series[code]
		if !ok {
			s = &series{}
			t.series[code] = s
		}

		day := models.DateOf(o.Date).Time
		if n := len(s.dates); n > 0 && s.dates[n-1].Equal(day) {
			s.rates[n-1] = o.Rate

			continue
		}

		s.dates = append(s.dates, day)
		s.rates = append(s.rates, o.Rate)
	}

	return t
}

// Base returns the table's base currency.
func (t *Table) Base() string {
	return t.base
}

// Currencies returns the codes with at least one observation, sorted.
func (t *Table) Currencies() []string {
	codes := make([]string, 0, len(t.series))
	for code := range t.series {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	return codes
}

// Rate implements RateSource.
func (t *Table) Rate(code string, on time.Time) (decimal.Decimal, bool) {
	code = normalizeCode(code)
	if code == t.base {
		return decimal.NewFromInt(1), true
	}

	s, ok := t.series[code]
	if !ok {
		return decimal.Zero, false
	}

	day := models.DateOf(on).Time

	// first observation strictly after day; the one before it is in effect
	idx := sort.Search(len(s.dates), func(i int) bool {
		return s.dates[i].After(day)
	})
	if idx == 0 {
		return decimal.Zero, false
	}

	if day.Sub(s.dates[idx-1]) > t.maxLookback {
		return decimal.Zero, false
	}

	return s.rates[idx-1], true
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
