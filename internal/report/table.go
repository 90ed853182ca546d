// Package report renders validation results as aligned markdown tables.
package report

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// minColumnWidth keeps the separator at least "---".
const minColumnWidth = 3

// Table is a header row plus data rows. Rows shorter than the header are
// padded with empty cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds one row.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Lines returns the table as markdown rows padded to equal display width.
// Widths use terminal cells, so names such as "Universität Zürich" or
// "東京大学" line up.
func (t *Table) Lines() []string {
	colCount := len(t.Header)
	for _, row := range t.Rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	for i := range widths {
		widths[i] = minColumnWidth
	}

	measure := func(row []string) {
		for i := 0; i < len(row) && i < colCount; i++ {
			if w := runewidth.StringWidth(cell(row[i])); w > widths[i] {
				widths[i] = w
			}
		}
	}

	measure(t.Header)

	for _, row := range t.Rows {
		measure(row)
	}

	result := make([]string, 0, len(t.Rows)+2)
	result = append(result, formatRow(t.Header, widths, false))
	result = append(result, formatRow(nil, widths, true))

	for _, row := range t.Rows {
		result = append(result, formatRow(row, widths, false))
	}

	return result
}

// String joins Lines with newlines.
func (t *Table) String() string {
	lines := t.Lines()
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}

func formatRow(row []string, widths []int, separator bool) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, width := range widths {
		sb.WriteString(" ")

		if separator {
			sb.WriteString(strings.Repeat("-", width))
		} else {
			content := ""
			if j < len(row) {
				content = cell(row[j])
			}

			sb.WriteString(content)

			if padding := width - runewidth.StringWidth(content); padding > 0 {
				sb.WriteString(strings.Repeat(" ", padding))
			}
		}

		sb.WriteString(" |")
	}

	return sb.String()
}

// cell flattens a value so it cannot break the table layout.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")

	return strings.TrimSpace(s)
}
