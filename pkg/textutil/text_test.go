package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("  a \t b\n\nc "))
	assert.Equal(t, "", NormalizeWhitespace(" \n "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "Mü...", Truncate("Müller", 2))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{name: "case", a: "University of Oslo", b: "UNIVERSITY OF OSLO"},
		{name: "spacing", a: "  Max  Planck ", b: "max planck"},
		{name: "composition", a: "Universita\u0308t", b: "universit\u00e4t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Canonical(tt.a), Canonical(tt.b))
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "x", FirstNonEmpty("", "  ", " x "))
	assert.Equal(t, "", FirstNonEmpty())
}
