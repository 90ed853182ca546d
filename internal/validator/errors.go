package validator

import (
	"fmt"
	"sort"
	"strings"
)

// Rule names, in report order.
const (
	RuleRequiredFields = "required_fields"
	RuleDates          = "dates"
	RuleCurrency       = "currency"
	RuleParticipants   = "participants"
	RuleSchema         = "schema"
	RuleIdentity       = "identity"
)

// Rules lists every rule in report order.
var Rules = []string{
	RuleRequiredFields,
	RuleDates,
	RuleCurrency,
	RuleParticipants,
	RuleSchema,
	RuleIdentity,
}

func ruleRank(rule string) int {
	for i, r := range Rules {
		if r == rule {
			return i
		}
	}

	return len(Rules)
}

// Violation is one failed check on one record.
type Violation struct {
	Kind    error
	Rule    string
	Field   string
	Message string
	Index   int
}

func (v Violation) Error() string {
	return fmt.Sprintf("record %d [%s] %s", v.Index, v.Rule, v.Message)
}

func (v Violation) Unwrap() error { return v.Kind }

// AggregateError carries every violation found in a batch.
type AggregateError struct {
	Violations []Violation
}

func (e *AggregateError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "validation failed with %d violation(s):", len(e.Violations))

	for _, v := range e.Violations {
		b.WriteString("\n  ")
		b.WriteString(v.Error())
	}

	return b.String()
}

// Unwrap exposes each violation so errors.Is matches any violation kind.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}

	return errs
}

// aggregate sorts vs by record index then rule and wraps them. It returns a
// nil error, not a nil *AggregateError, when vs is empty.
func aggregate(vs []Violation) error {
	if len(vs) == 0 {
		return nil
	}

	sortViolations(vs)

	return &AggregateError{Violations: vs}
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Index != vs[j].Index {
			return vs[i].Index < vs[j].Index
		}

		return ruleRank(vs[i].Rule) < ruleRank(vs[j].Rule)
	})
}
