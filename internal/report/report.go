package report

import (
	"fmt"
	"io"
	"strconv"

	"grantflow/internal/models"
	"grantflow/internal/validator"

	"github.com/mattn/go-runewidth"
)

// DefaultMessageWidth caps the message column in terminal cells.
const DefaultMessageWidth = 72

// Options tunes rendering.
type Options struct {
	// MessageWidth truncates long messages. Zero means DefaultMessageWidth,
	// negative disables truncation.
	MessageWidth int
}

// Violations builds the per-violation table. records supplies the grant id
// and recipient shown beside each violation and may be nil.
func Violations(rep *validator.Report, records []models.RecordMap, opts Options) *Table {
	width := opts.MessageWidth
	if width == 0 {
		width = DefaultMessageWidth
	}

	t := &Table{Header: []string{"Record", "Grant ID", "Recipient", "Rule", "Field", "Message"}}

	for _, v := range rep.Violations {
		var grantID, recipient string

		if v.Index >= 0 && v.Index < len(records) {
			rec := models.RawFields(records[v.Index])
			grantID, _ = rec.String("grant_id")
			recipient, _ = rec.String("recipient_org_name")
		}

		msg := v.Message
		if width > 0 {
			msg = runewidth.Truncate(msg, width, "...")
		}

		t.Append(strconv.Itoa(v.Index), grantID, recipient, v.Rule, v.Field, msg)
	}

	return t
}

// Summary builds the per-rule count table, one row per rule in report order.
func Summary(rep *validator.Report) *Table {
	counts := rep.CountByRule()

	t := &Table{Header: []string{"Rule", "Violations"}}
	for _, rule := range validator.Rules {
		t.Append(rule, strconv.Itoa(counts[rule]))
	}

	return t
}

// Render writes a heading, the summary table and, when there are any, the
// violation table.
func Render(w io.Writer, rep *validator.Report, records []models.RecordMap, opts Options) error {
	status := "PASSED"
	if !rep.Valid() {
		status = "FAILED"
	}

	if _, err := fmt.Fprintf(w, "Validation %s: %d record(s), %d invalid, %d violation(s)\n\n",
		status, rep.Records, rep.InvalidRecords(), len(rep.Violations)); err != nil {
		return err
	}

	if _, err := io.WriteString(w, Summary(rep).String()); err != nil {
		return err
	}

	if rep.Valid() {
		return nil
	}

	if _, err := io.WriteString(w, "\n"+Violations(rep, records, opts).String()); err != nil {
		return err
	}

	return nil
}
