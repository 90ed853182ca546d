package normalizer

import (
	"sort"
	"strings"

	"grantflow/internal/models"
	"grantflow/pkg/textutil"
)

// participants builds the participant list from raw "named_participants".
// Elements may be bare names, field maps, or already typed participants.
func participants(raw models.RawFields) ([]models.Participant, []*models.FieldError) {
	items := raw.List("named_participants")
	if len(items) == 0 {
		return nil, nil
	}

	var (
		out  []models.Participant
		errs []*models.FieldError
	)

	for _, item := range items {
		switch p := item.(type) {
		case string:
			if name := textutil.NormalizeWhitespace(p); name != "" {
				out = append(out, models.Participant{FullName: name})
			}
		case models.Participant:
			out = append(out, p)
		case *models.Participant:
			if p != nil {
				out = append(out, *p)
			}
		case map[string]any:
			out = append(out, participantFromFields(models.RawFields(p)))
		case models.RawFields:
			out = append(out, participantFromFields(p))
		default:
			errs = append(errs, &models.FieldError{
				Kind:  models.ErrParticipantSchemaViolation,
				Field: "named_participants",
				Raw:   models.Stringify(p),
			})
		}
	}

	return out, errs
}

func participantFromFields(f models.RawFields) models.Participant {
	p := models.Participant{
		IsPI:       truthy(f["is_pi"]),
		GrantRole:  optString(f, "grant_role", "role"),
		FirstName:  optString(f, "first_name"),
		MiddleName: optString(f, "middle_name"),
		LastName:   optString(f, "last_name"),
		NamePrefix: optString(f, "name_prefix"),
		NameSuffix: optString(f, "name_suffix"),
	}

	if name, ok := f.String("full_name", "name"); ok {
		p.FullName = textutil.NormalizeWhitespace(name)
	} else {
		p.FullName = textutil.NormalizeWhitespace(strings.Join([]string{
			models.Deref(p.NamePrefix),
			models.Deref(p.FirstName),
			models.Deref(p.MiddleName),
			models.Deref(p.LastName),
			models.Deref(p.NameSuffix),
		}, " "))
	}

	for _, a := range f.List("affiliations") {
		if s := textutil.NormalizeWhitespace(models.Stringify(a)); s != "" {
			p.Affiliations = append(p.Affiliations, s)
		}
	}

	p.Identifiers = identifiers(f["identifiers"])

	return p
}

// identifiers accepts a list of {scheme, value} maps or a scheme->value map.
// Map input is ordered by scheme.
func identifiers(v any) []models.Identifier {
	var out []models.Identifier

	switch t := v.(type) {
	case []models.Identifier:
		return append(out, t...)
	case []any:
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}

			f := models.RawFields(m)
			scheme, _ := f.String("scheme")
			value, _ := f.String("value")
			out = append(out, models.Identifier{Scheme: scheme, Value: value})
		}
	case map[string]any:
		schemes := make([]string, 0, len(t))
		for k := range t {
			schemes = append(schemes, k)
		}

		sort.Strings(schemes)

		for _, k := range schemes {
			out = append(out, models.Identifier{Scheme: k, Value: strings.TrimSpace(models.Stringify(t[k]))})
		}
	}

	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}

	return false
}

func optString(f models.RawFields, keys ...string) *string {
	if s, ok := f.String(keys...); ok {
		return &s
	}

	return nil
}

// leadApplicant names the PI: the first participant flagged as PI, else
// the first-listed participant.
func leadApplicant(ps []models.Participant) (string, bool) {
	for _, p := range ps {
		if p.IsPI && strings.TrimSpace(p.FullName) != "" {
			return p.FullName, true
		}
	}

	for _, p := range ps {
		if strings.TrimSpace(p.FullName) != "" {
			return p.FullName, true
		}
	}

	return "", false
}
