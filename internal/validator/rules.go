package validator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"grantflow/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultMinYear is the earliest accepted grant_year.
const DefaultMinYear = 1900

// RequiredFields must be present and non-empty on every record.
var RequiredFields = []string{"_crawled_at", "source", "grant_id", "funder_org_name", "recipient_org_name"}

// ValidateRequiredFields checks that every required field, plus any in
// additional, is present and non-empty.
func ValidateRequiredFields(records []models.RecordMap, additional ...string) error {
	fields := requiredSet(additional)

	var vs []Violation

	for i, rec := range records {
		for _, f := range fields {
			v, ok := rec[f]

			switch {
			case !ok:
				vs = append(vs, Violation{
					Index: i, Rule: RuleRequiredFields, Field: f, Kind: models.ErrMissingRequiredField,
					Message: "missing required field " + f,
				})
			case isEmpty(v):
				vs = append(vs, Violation{
					Index: i, Rule: RuleRequiredFields, Field: f, Kind: models.ErrEmptyRequiredField,
					Message: "empty required field " + f,
				})
			}
		}
	}

	return aggregate(vs)
}

func requiredSet(additional []string) []string {
	seen := make(map[string]bool, len(RequiredFields)+len(additional))
	fields := make([]string, 0, len(RequiredFields)+len(additional))

	for _, f := range append(append([]string(nil), RequiredFields...), additional...) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}

		seen[f] = true
		fields = append(fields, f)
	}

	return fields
}

// ValidateDates checks grant_year is an integer in [1900, now.Year()+1] and
// that grant_start_date is not after grant_end_date.
func ValidateDates(records []models.RecordMap, now time.Time) error {
	return aggregate(checkDates(records, now, DefaultMinYear))
}

func checkDates(records []models.RecordMap, now time.Time, minYear int) []Violation {
	var vs []Violation

	maxYear := now.Year() + 1

	for i, rec := range records {
		if v, ok := rec["grant_year"]; ok && v != nil {
			year, isInt := integer(v)

			switch {
			case !isInt:
				vs = append(vs, Violation{
					Index: i, Rule: RuleDates, Field: "grant_year", Kind: models.ErrYearNotInteger,
					Message: fmt.Sprintf("grant_year must be integer, got %T %v", v, v),
				})
			case year < int64(minYear) || year > int64(maxYear):
				vs = append(vs, Violation{
					Index: i, Rule: RuleDates, Field: "grant_year", Kind: models.ErrDateOutOfRange,
					Message: fmt.Sprintf("grant_year %d outside range [%d, %d]", year, minYear, maxYear),
				})
			}
		}

		start, startOK, err := dateField(rec, "grant_start_date")
		if err != nil {
			vs = append(vs, Violation{
				Index: i, Rule: RuleDates, Field: "grant_start_date", Kind: models.ErrDateFormat,
				Message: err.Error(),
			})
		}

		end, endOK, err := dateField(rec, "grant_end_date")
		if err != nil {
			vs = append(vs, Violation{
				Index: i, Rule: RuleDates, Field: "grant_end_date", Kind: models.ErrDateFormat,
				Message: err.Error(),
			})
		}

		if startOK && endOK && start.After(end.Time) {
			vs = append(vs, Violation{
				Index: i, Rule: RuleDates, Field: "grant_start_date", Kind: models.ErrInvalidDateOrder,
				Message: fmt.Sprintf("start date %s is after end date %s", start, end),
			})
		}
	}

	return vs
}

// ValidateCurrencyFields checks currency codes are three letters, amounts
// are non-negative numbers, and an amount always has a currency.
func ValidateCurrencyFields(records []models.RecordMap) error {
	var vs []Violation

	for i, rec := range records {
		currency, hasCurrency := rec["award_currency"]
		hasCurrency = hasCurrency && currency != nil

		if hasCurrency && !isCurrencyCode(currency) {
			vs = append(vs, Violation{
				Index: i, Rule: RuleCurrency, Field: "award_currency", Kind: models.ErrCurrencyCodeMalformed,
				Message: fmt.Sprintf("invalid currency code format: %v", currency),
			})
		}

		for _, field := range []string{"award_amount", "award_amount_usd"} {
			v, ok := rec[field]
			if !ok || v == nil {
				continue
			}

			amount, isNum := numeric(v)

			switch {
			case !isNum:
				vs = append(vs, Violation{
					Index: i, Rule: RuleCurrency, Field: field, Kind: models.ErrAmountNotNumeric,
					Message: fmt.Sprintf("%s must be numeric, got %T %v", field, v, v),
				})
			case amount.IsNegative():
				vs = append(vs, Violation{
					Index: i, Rule: RuleCurrency, Field: field, Kind: models.ErrNegativeAmount,
					Message: fmt.Sprintf("%s cannot be negative: %s", field, amount),
				})
			}

			if field == "award_amount" && (!hasCurrency || isEmpty(currency)) {
				vs = append(vs, Violation{
					Index: i, Rule: RuleCurrency, Field: field, Kind: models.ErrAmountWithoutCurrency,
					Message: "award_amount present but award_currency missing",
				})
			}
		}
	}

	return aggregate(vs)
}

// ValidateParticipants checks each participant against the participant
// schema, and that a PI participant implies a non-empty pi_name.
func ValidateParticipants(records []models.RecordMap) error {
	var vs []Violation

	for i, rec := range records {
		raw, ok := rec["named_participants"]
		if !ok || raw == nil {
			continue
		}

		list, ok := raw.([]any)
		if !ok {
			vs = append(vs, Violation{
				Index: i, Rule: RuleParticipants, Field: "named_participants", Kind: models.ErrParticipantSchemaViolation,
				Message: fmt.Sprintf("named_participants must be a list, got %T", raw),
			})

			continue
		}

		piName := ""
		if s, ok := rec["pi_name"].(string); ok {
			piName = strings.TrimSpace(s)
		}

		for j, item := range list {
			field := fmt.Sprintf("named_participants[%d]", j)

			p, ok := item.(map[string]any)
			if !ok {
				vs = append(vs, Violation{
					Index: i, Rule: RuleParticipants, Field: field, Kind: models.ErrParticipantSchemaViolation,
					Message: fmt.Sprintf("participant %d must be an object, got %T", j, item),
				})

				continue
			}

			for _, msg := range checkParticipant(p) {
				vs = append(vs, Violation{
					Index: i, Rule: RuleParticipants, Field: field, Kind: models.ErrParticipantSchemaViolation,
					Message: fmt.Sprintf("participant %d: %s", j, msg),
				})
			}

			if isPI, _ := p["is_pi"].(bool); isPI && piName == "" {
				vs = append(vs, Violation{
					Index: i, Rule: RuleParticipants, Field: "pi_name", Kind: models.ErrPiConsistencyViolation,
					Message: fmt.Sprintf("participant %d marked as PI but pi_name is empty", j),
				})
			}
		}
	}

	return aggregate(vs)
}

// ValidateUniqueIDs checks that no two records share a grant_id.
func ValidateUniqueIDs(records []models.RecordMap) error {
	var vs []Violation

	first := make(map[string]int, len(records))

	for i, rec := range records {
		id, ok := rec["grant_id"].(string)
		if !ok || id == "" {
			continue
		}

		if j, dup := first[id]; dup {
			vs = append(vs, Violation{
				Index: i, Rule: RuleIdentity, Field: "grant_id", Kind: models.ErrIDCollision,
				Message: fmt.Sprintf("grant_id %s already used by record %d", id, j),
			})

			continue
		}

		first[id] = i
	}

	return aggregate(vs)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}

	return false
}

// integer accepts integral JSON numbers and Go integer types.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)

		return i, err == nil
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	}

	return 0, false
}

// numeric accepts JSON numbers and Go numeric types; strings are not numbers.
func numeric(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())

		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case decimal.Decimal:
		return n, true
	case models.Amount:
		return n.Decimal, true
	case *models.Amount:
		if n != nil {
			return n.Decimal, true
		}
	}

	return decimal.Zero, false
}

func isCurrencyCode(v any) bool {
	s, ok := v.(string)
	if !ok || len(s) != 3 {
		return false
	}

	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}

	return true
}

// dateField reads a calendar date. ok is false when the field is absent or
// unparseable.
func dateField(rec models.RecordMap, field string) (models.Date, bool, error) {
	v, present := rec[field]
	if !present || v == nil {
		return models.Date{}, false, nil
	}

	switch d := v.(type) {
	case models.Date:
		return d, true, nil
	case *models.Date:
		if d != nil {
			return *d, true, nil
		}

		return models.Date{}, false, nil
	case time.Time:
		return models.DateOf(d), true, nil
	case string:
		parsed, err := models.ParseDate(strings.TrimSpace(d))
		if err != nil {
			return models.Date{}, false, fmt.Errorf("%s: %w", field, err)
		}

		return parsed, true, nil
	}

	return models.Date{}, false, fmt.Errorf("%s: %w: unsupported type %T", field, models.ErrDateFormat, v)
}
