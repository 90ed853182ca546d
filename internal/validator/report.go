package validator

// Report is the outcome of one validation run.
type Report struct {
	Violations []Violation
	Records    int
}

// Valid reports whether no rule found a violation.
func (r *Report) Valid() bool {
	return len(r.Violations) == 0
}

// Err returns nil for a clean report, otherwise an *AggregateError.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}

	return &AggregateError{Violations: r.Violations}
}

// CountByRule returns the number of violations per rule.
func (r *Report) CountByRule() map[string]int {
	counts := make(map[string]int, len(Rules))
	for _, v := range r.Violations {
		counts[v.Rule]++
	}

	return counts
}

// InvalidRecords returns the number of distinct records with violations.
func (r *Report) InvalidRecords() int {
	seen := make(map[int]bool)
	for _, v := range r.Violations {
		seen[v.Index] = true
	}

	return len(seen)
}

// ForRecord returns the violations of the record at index.
func (r *Report) ForRecord(index int) []Violation {
	var out []Violation

	for _, v := range r.Violations {
		if v.Index == index {
			out = append(out, v)
		}
	}

	return out
}
