// Package models defines the canonical award record and the loosely typed
// field maps it is assembled from.
package models

import (
	"regexp"
	"strings"
	"time"
)

// SchemaVersion identifies the field contract records are normalized against.
const SchemaVersion = "0.1.1"

// AwardRecord is one funder-to-recipient disbursement.
// Optional fields are pointers so that "unknown" survives serialisation as
// an absent key rather than a zero value.
type AwardRecord struct {
	CrawledAt            time.Time      `json:"_crawled_at" validate:"required"`
	Source               string         `json:"source" validate:"required"`
	GrantID              string         `json:"grant_id" validate:"required"`
	FunderOrgName        string         `json:"funder_org_name" validate:"required"`
	FunderOrgRorID       *string        `json:"funder_org_ror_id,omitempty" validate:"omitempty,ror"`
	RecipientOrgName     string         `json:"recipient_org_name" validate:"required"`
	RecipientOrgRorID    *string        `json:"recipient_org_ror_id,omitempty" validate:"omitempty,ror"`
	RecipientOrgLocation *string        `json:"recipient_org_location,omitempty"`
	PiName               *string        `json:"pi_name,omitempty"`
	NamedParticipants    []Participant  `json:"named_participants,omitempty" validate:"omitempty,dive"`
	GrantYear            *int           `json:"grant_year,omitempty"`
	GrantDuration        *string        `json:"grant_duration,omitempty"`
	GrantStartDate       *Date          `json:"grant_start_date,omitempty"`
	GrantEndDate         *Date          `json:"grant_end_date,omitempty"`
	AwardAmount          *Amount        `json:"award_amount,omitempty" validate:"omitempty,gte=0"`
	AwardCurrency        *string        `json:"award_currency,omitempty" validate:"omitempty,len=3,alpha"`
	AwardAmountUSD       *Amount        `json:"award_amount_usd,omitempty" validate:"omitempty,gte=0"`
	SourceURL            *string        `json:"source_url,omitempty" validate:"omitempty,url"`
	GrantTitle           *string        `json:"grant_title,omitempty"`
	GrantDescription     *string        `json:"grant_description,omitempty"`
	ProgramOfFunder      *string        `json:"program_of_funder,omitempty"`
	GrantCategory        *GrantCategory `json:"grant_category,omitempty" validate:"omitempty,grant_category"`
	Comments             *string        `json:"comments,omitempty"`
	RawSourceData        *string        `json:"raw_source_data,omitempty"`
	SchemaVersion        string         `json:"_award_schema_version" validate:"required"`
}

// Participant is a named individual associated with an award.
type Participant struct {
	FullName     string       `json:"full_name" validate:"required"`
	IsPI         bool         `json:"is_pi"`
	Affiliations []string     `json:"affiliations,omitempty" validate:"omitempty,dive,required"`
	GrantRole    *string      `json:"grant_role,omitempty"`
	FirstName    *string      `json:"first_name,omitempty"`
	MiddleName   *string      `json:"middle_name,omitempty"`
	LastName     *string      `json:"last_name,omitempty"`
	NamePrefix   *string      `json:"name_prefix,omitempty"`
	NameSuffix   *string      `json:"name_suffix,omitempty"`
	Identifiers  []Identifier `json:"identifiers,omitempty" validate:"omitempty,dive"`
}

// Identifier is one (scheme, value) pair such as ("orcid", "0000-0002-...").
type Identifier struct {
	Scheme string `json:"scheme" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p, or the zero value when p is nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}

	return *p
}

// RorURLPrefix is the canonical prefix of a ROR identifier URL.
const RorURLPrefix = "https://ror.org/"

// rorPattern matches a bare ROR id: a leading 0, six Crockford base32
// characters and a two-digit checksum.
var rorPattern = regexp.MustCompile(`^0[0-9a-hjkmnp-tv-z]{6}[0-9]{2}$`)

// ValidRorID reports whether s is a ROR id, bare ("04jsh2530") or as a
// ror.org URL.
func ValidRorID(s string) bool {
	id, _ := strings.CutPrefix(s, RorURLPrefix)
	if id == s {
		id, _ = strings.CutPrefix(s, "http://ror.org/")
	}

	return rorPattern.MatchString(id)
}
