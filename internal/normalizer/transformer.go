package normalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"grantflow/internal/models"

	"github.com/shopspring/decimal"
)

// ProgramSeparator joins the levels of a funder's program hierarchy.
const ProgramSeparator = ">"

// symbolCurrencies maps currency symbols that name exactly one currency.
// "$" and "¥" are shared by several currencies and infer nothing.
var symbolCurrencies = map[string]string{
	"€": "EUR",
	"£": "GBP",
}

// amountSymbols may lead or trail an amount.
var amountSymbols = []string{"$", "€", "£", "¥"}

// cutSymbol removes one currency symbol from s using cut (a prefix or
// suffix cutter) and reports which symbol it removed.
func cutSymbol(s string, cut func(string, string) (string, bool)) (string, string) {
	for _, symbol := range amountSymbols {
		if rest, ok := cut(s, symbol); ok {
			return rest, symbol
		}
	}

	return s, ""
}

// dateLayouts are tried in order when a raw date is not YYYY-MM-DD.
var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02.01.2006",
}

// Transformer converts raw field values into typed values.
type Transformer struct {
	yearPattern     *regexp.Regexp
	durationPattern *regexp.Regexp
	codePrefix      *regexp.Regexp
	codeSuffix      *regexp.Regexp
	digitsPattern   *regexp.Regexp
	amountPattern   *regexp.Regexp
}

// NewTransformer creates a new transformer instance.
func NewTransformer() *Transformer {
	return &Transformer{
		yearPattern:     regexp.MustCompile(`\d{4}`),
		durationPattern: regexp.MustCompile(`(?i)(\d+)\s*-?\s*(months?|mos?|years?|yrs?)?\b`),
		codePrefix:      regexp.MustCompile(`^([A-Z]{3})\s*(.*)$`),
		codeSuffix:      regexp.MustCompile(`^(.*?)\s*([A-Z]{3})$`),
		digitsPattern:   regexp.MustCompile(`^\d[\d.,]*$`),
		amountPattern:   regexp.MustCompile(`^\d+(\.\d+)?$`),
	}
}

// ParseAmount parses a raw amount. Strings may carry a leading or trailing
// currency symbol, a three-letter code and group separators ("$1,250.00",
// "€ 1.250,50", "USD 50,000"). Anything else around or inside the number
// ("$500 - $1,000", "$1.5 million") is rejected. The returned currency is
// the one implied by the text, or empty when the text names none.
func (t *Transformer) ParseAmount(v any) (decimal.Decimal, string, error) {
	switch n := v.(type) {
	case float64:
		return nonNegative(decimal.NewFromFloat(n), v)
	case float32:
		return nonNegative(decimal.NewFromFloat32(n), v)
	case int:
		return nonNegative(decimal.NewFromInt(int64(n)), v)
	case int64:
		return nonNegative(decimal.NewFromInt(n), v)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, "", fmt.Errorf("%w: %q", models.ErrAmountNotNumeric, n)
		}

		return nonNegative(d, v)
	}

	raw := strings.TrimSpace(models.Stringify(v))
	if raw == "" {
		return decimal.Zero, "", fmt.Errorf("%w: empty", models.ErrAmountNotNumeric)
	}

	rest, currency := raw, ""

	if m := t.codePrefix.FindStringSubmatch(rest); m != nil {
		currency, rest = m[1], m[2]
	} else if m := t.codeSuffix.FindStringSubmatch(rest); m != nil {
		rest, currency = m[1], m[2]
	}

	rest, negative := strings.CutPrefix(strings.TrimSpace(rest), "-")
	rest, symbol := cutSymbol(strings.TrimSpace(rest), strings.CutPrefix)

	if !negative {
		rest, negative = strings.CutPrefix(strings.TrimSpace(rest), "-")
	}

	if symbol == "" {
		rest, symbol = cutSymbol(strings.TrimSpace(rest), strings.CutSuffix)
	}

	if currency == "" {
		currency = symbolCurrencies[symbol]
	}

	rest = strings.TrimSpace(rest)
	if !t.digitsPattern.MatchString(rest) {
		return decimal.Zero, "", fmt.Errorf("%w: %q", models.ErrAmountNotNumeric, raw)
	}

	number, ok := t.canonicalNumber(rest)
	if !ok {
		return decimal.Zero, "", fmt.Errorf("%w: %q", models.ErrAmountNotNumeric, raw)
	}

	d, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("%w: %q", models.ErrAmountNotNumeric, raw)
	}

	if negative && !d.IsZero() {
		return decimal.Zero, "", fmt.Errorf("%w: %q", models.ErrNegativeAmount, raw)
	}

	return d, currency, nil
}

// canonicalNumber rewrites a run of digits and separators as a plain
// decimal. The last separator is the decimal point when it is a dot that
// occurs once, or a comma followed by one or two digits; every other
// separator groups thousands.
func (t *Transformer) canonicalNumber(s string) (string, bool) {
	s = strings.Trim(s, ".,")
	if s == "" {
		return "", false
	}

	last := strings.LastIndexAny(s, ".,")
	if last < 0 {
		return s, t.amountPattern.MatchString(s)
	}

	head, tail := s[:last], s[last+1:]

	decimalPoint := false

	switch s[last] {
	case ',':
		decimalPoint = len(tail) >= 1 && len(tail) <= 2
	case '.':
		decimalPoint = strings.Count(s, ".") == 1
	}

	strip := strings.NewReplacer(",", "", ".", "")

	out := strip.Replace(s)
	if decimalPoint {
		out = strip.Replace(head) + "." + tail
	}

	return out, t.amountPattern.MatchString(out)
}

func nonNegative(d decimal.Decimal, raw any) (decimal.Decimal, string, error) {
	if d.IsNegative() {
		return decimal.Zero, "", fmt.Errorf("%w: %v", models.ErrNegativeAmount, raw)
	}

	return d, "", nil
}

// ParseYear extracts a year from a raw value: integers as-is, text by its
// first run of four digits ("FY 2021-22" is 2021).
func (t *Transformer) ParseYear(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}

	raw := strings.TrimSpace(models.Stringify(v))

	match := t.yearPattern.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", models.ErrYearNotInteger, raw)
	}

	year, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrYearNotInteger, raw)
	}

	return year, nil
}

// ParseDate accepts time values and the date spellings in dateLayouts.
func (t *Transformer) ParseDate(v any) (models.Date, error) {
	switch d := v.(type) {
	case models.Date:
		return d, nil
	case *models.Date:
		if d != nil {
			return *d, nil
		}
	case time.Time:
		return models.DateOf(d), nil
	}

	raw := strings.TrimSpace(models.Stringify(v))

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return models.DateOf(parsed), nil
		}
	}

	return models.Date{}, fmt.Errorf("%w: %q", models.ErrDateFormat, raw)
}

// ParseTimestamp parses a crawl timestamp.
func (t *Transformer) ParseTimestamp(v any) (time.Time, error) {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC(), nil
	}

	raw := strings.TrimSpace(models.Stringify(v))
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", models.ErrDateFormat, raw)
}

// ParseDurationMonths reads "36", "36 months", "18-month" or "3 years".
func (t *Transformer) ParseDurationMonths(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n > 0
	case float64:
		return int(n), n > 0 && n == float64(int(n))
	}

	m := t.durationPattern.FindStringSubmatch(models.Stringify(v))
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}

	if unit := strings.ToLower(m[2]); strings.HasPrefix(unit, "y") {
		n *= 12
	}

	return n, true
}

// AddMonths adds n calendar months to d. The day of month is clamped to the
// length of the target month, so January 31 plus one month is the last day
// of February rather than a day in March.
func AddMonths(d models.Date, n int) models.Date {
	total := int(d.Month()) - 1 + n
	year := d.Year() + total/12
	month := total % 12

	if month < 0 {
		month += 12
		year--
	}

	target := time.Month(month + 1)

	return models.NewDate(year, target, min(d.Day(), models.DaysIn(year, target)))
}

// JoinProgram joins the non-empty levels of a program hierarchy with ">".
// Levels that themselves contain the separator are split first, so the
// result never has empty, leading or trailing segments.
func JoinProgram(levels ...string) string {
	var parts []string

	for _, level := range levels {
		for _, part := range strings.Split(level, ProgramSeparator) {
			if p := strings.Join(strings.Fields(part), " "); p != "" {
				parts = append(parts, p)
			}
		}
	}

	return strings.Join(parts, ProgramSeparator)
}
