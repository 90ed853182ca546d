package normalizer

import (
	"strings"

	"grantflow/internal/models"
	"grantflow/pkg/fingerprint"
)

// Grant id layout: "<source>::<native id>" for sources that publish an id,
// "ioi:<source>::<hash>" for the rest.
const (
	IDSeparator       = "::"
	SyntheticIDPrefix = "ioi:"
)

// Raw keys that may carry a source-native public identifier.
var publicIDKeys = []string{"grant_id", "public_id", "project_id"}

// Raw keys that may carry the award year.
var yearKeys = []string{"grant_year", "year", "competition_year"}

// GrantID derives the record id from raw fields. It depends only on source
// and the raw values, so normalizing the same input twice yields the same id.
func GrantID(source string, raw models.RawFields) string {
	if public, ok := raw.String(publicIDKeys...); ok {
		if strings.HasPrefix(public, source+IDSeparator) || strings.HasPrefix(public, SyntheticIDPrefix) {
			return public
		}

		return source + IDSeparator + public
	}

	recipient, _ := raw.String("recipient_org_name")
	amount, _ := raw.String("award_amount")
	year, _ := raw.String(yearKeys...)

	return SyntheticID(source, recipient, amount, year)
}

// SyntheticID hashes the canonical (trimmed, case-folded) recipient name,
// raw amount and raw year into an id for sources without public ids.
func SyntheticID(source, recipientName, amountRaw, yearRaw string) string {
	return SyntheticIDPrefix + source + IDSeparator + fingerprint.StableID64(recipientName, amountRaw, yearRaw)
}
