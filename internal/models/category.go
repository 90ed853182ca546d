package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GrantCategory is the activity category of a grant. The variant set is
// closed: values outside the constants below cannot be constructed through
// ParseGrantCategory or JSON decoding.
type GrantCategory int

// Grant activity categories.
const (
	CategoryAdjacent GrantCategory = iota + 1
	CategoryAdoptionCommunity
	CategoryAdoptionLocal
	CategoryCommunity
	CategoryEventsTravel
	CategoryOperations
	CategoryResearchAndDevelopment
	CategoryStrategyGovernance
	CategoryOther
)

// AllGrantCategories lists every variant in declaration order.
var AllGrantCategories = []GrantCategory{
	CategoryAdjacent,
	CategoryAdoptionCommunity,
	CategoryAdoptionLocal,
	CategoryCommunity,
	CategoryEventsTravel,
	CategoryOperations,
	CategoryResearchAndDevelopment,
	CategoryStrategyGovernance,
	CategoryOther,
}

// String returns the dataset label of the category.
func (c GrantCategory) String() string {
	switch c {
	case CategoryAdjacent:
		return "Adjacent"
	case CategoryAdoptionCommunity:
		return "Adoption - community"
	case CategoryAdoptionLocal:
		return "Adoption - local"
	case CategoryCommunity:
		return "Community"
	case CategoryEventsTravel:
		return "Events/travel"
	case CategoryOperations:
		return "Operations"
	case CategoryResearchAndDevelopment:
		return "Research and development"
	case CategoryStrategyGovernance:
		return "Strategy/governance/business planning"
	case CategoryOther:
		return "Other"
	}

	return fmt.Sprintf("GrantCategory(%d)", int(c))
}

// Valid reports whether c is one of the declared variants.
func (c GrantCategory) Valid() bool {
	return c >= CategoryAdjacent && c <= CategoryOther
}

// ParseGrantCategory matches a label case-insensitively.
func ParseGrantCategory(label string) (GrantCategory, error) {
	want := strings.TrimSpace(label)
	for _, c := range AllGrantCategories {
		if strings.EqualFold(c.String(), want) {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown grant category %q", ErrSchemaViolation, label)
}

// MarshalJSON implements json.Marshaler.
func (c GrantCategory) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: invalid grant category %d", ErrSchemaViolation, int(c))
	}

	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *GrantCategory) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err != nil {
		return fmt.Errorf("%w: grant category must be a string", ErrSchemaViolation)
	}

	parsed, err := ParseGrantCategory(label)
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}
