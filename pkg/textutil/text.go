// Package textutil provides string canonicalisation helpers shared by the
// normalizer and the fingerprinting code.
package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeWhitespace replaces runs of whitespace with a single space and trims the ends.
func NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// Truncate shortens str to at most maxLength runes, appending "..." when cut.
func Truncate(str string, maxLength int) string {
	runes := []rune(str)
	if len(runes) <= maxLength {
		return str
	}

	return string(runes[:maxLength]) + "..."
}

// Canonical returns the form of str used for hashing: NFC composed,
// case folded and whitespace collapsed. Two spellings that differ only in
// Unicode composition, letter case or spacing produce the same output.
func Canonical(str string) string {
	composed := norm.NFC.String(str)
	folded := cases.Fold().String(composed)

	return NormalizeWhitespace(folded)
}

// FirstNonEmpty returns the first argument that is non-empty after trimming.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}

	return ""
}
