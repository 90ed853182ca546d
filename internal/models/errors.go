package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the normalizer and the validator.
var (
	ErrMissingRequiredField       = errors.New("missing required field")
	ErrEmptyRequiredField         = errors.New("empty required field")
	ErrInvalidDateOrder           = errors.New("start date is after end date")
	ErrDateOutOfRange             = errors.New("date out of range")
	ErrDateFormat                 = errors.New("date format error")
	ErrYearNotInteger             = errors.New("grant_year must be an integer")
	ErrCurrencyCodeMalformed      = errors.New("currency code malformed")
	ErrAmountNotNumeric           = errors.New("amount not numeric")
	ErrNegativeAmount             = errors.New("amount is negative")
	ErrAmountWithoutCurrency      = errors.New("amount present but currency missing")
	ErrParticipantSchemaViolation = errors.New("participant schema violation")
	ErrPiConsistencyViolation     = errors.New("participant marked as PI but pi_name is empty")
	ErrRateNotFound               = errors.New("exchange rate not found")
	ErrIDCollision                = errors.New("grant_id collision")
	ErrSchemaViolation            = errors.New("schema violation")
)

// FieldError is a non-fatal problem found while deriving one field. The
// field is left unset and normalization continues.
type FieldError struct {
	Kind  error
	Field string
	Raw   string
}

func (e *FieldError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Kind)
	}

	return fmt.Sprintf("%s: %s (raw %q)", e.Field, e.Kind, e.Raw)
}

func (e *FieldError) Unwrap() error { return e.Kind }
