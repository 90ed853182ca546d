package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_JSON(t *testing.T) {
	d := NewDate(2021, time.February, 28)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2021-02-28"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Equal(d.Time))

	err = json.Unmarshal([]byte(`"28/02/2021"`), &back)
	assert.ErrorIs(t, err, ErrDateFormat)
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 28, DaysIn(2021, time.February))
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 31, DaysIn(2021, time.December))
}

func TestAmount_JSONIsNumber(t *testing.T) {
	a, err := AmountFromString("1250.00")
	require.NoError(t, err)

	b, err := json.Marshal(struct {
		A Amount `json:"a"`
	}{a})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1250}`, string(b))

	var back Amount
	require.NoError(t, json.Unmarshal([]byte(`"99.5"`), &back))
	assert.Equal(t, "99.5", back.String())
}

func TestGrantCategory(t *testing.T) {
	for _, c := range AllGrantCategories {
		parsed, err := ParseGrantCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	c, err := ParseGrantCategory("  research AND development ")
	require.NoError(t, err)
	assert.Equal(t, CategoryResearchAndDevelopment, c)

	_, err = ParseGrantCategory("Lobbying")
	assert.ErrorIs(t, err, ErrSchemaViolation)

	_, err = json.Marshal(GrantCategory(42))
	assert.Error(t, err)
}

func TestRawFields_CloneIsDeep(t *testing.T) {
	orig := RawFields{
		"named_participants": []any{map[string]any{"full_name": "A"}},
		"title":              "T",
	}

	cp := orig.Clone()
	cp["title"] = "changed"
	cp["named_participants"].([]any)[0].(map[string]any)["full_name"] = "B"

	assert.Equal(t, "T", orig["title"])
	assert.Equal(t, "A", orig["named_participants"].([]any)[0].(map[string]any)["full_name"])
}

func TestRawFields_String(t *testing.T) {
	f := RawFields{"a": "  ", "b": json.Number("2019"), "c": 12.5}

	s, ok := f.String("a", "b")
	assert.True(t, ok)
	assert.Equal(t, "2019", s)

	s, ok = f.String("c")
	assert.True(t, ok)
	assert.Equal(t, "12.5", s)

	_, ok = f.String("missing")
	assert.False(t, ok)
}

func TestRawFields_List(t *testing.T) {
	f := RawFields{"one": "x", "many": []string{"a", "b"}}

	assert.Equal(t, []any{"x"}, f.List("one"))
	assert.Equal(t, []any{"a", "b"}, f.List("many"))
	assert.Nil(t, f.List("none"))
}

func TestFieldError(t *testing.T) {
	err := &FieldError{Field: "award_amount", Raw: "abc", Kind: ErrAmountNotNumeric}

	assert.ErrorIs(t, err, ErrAmountNotNumeric)
	assert.Contains(t, err.Error(), `award_amount`)
	assert.Contains(t, err.Error(), `"abc"`)
}

func TestValidRorID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"04jsh2530", true},
		{"https://ror.org/04jsh2530", true},
		{"http://ror.org/018mejw64", true},
		{"https://example.org/04jsh2530", false},
		{"14jsh2530", false},
		{"04jsl2530", false},
		{"04jsh253", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidRorID(tt.in), tt.in)
	}
}
