package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawFields is a loosely typed field map as produced by a site extractor.
// Values are whatever the extractor found: strings, numbers, bools, lists
// ([]any) and nested maps.
type RawFields map[string]any

// RecordMap is a serialised AwardRecord as seen by the batch validator.
type RecordMap = map[string]any

// Clone returns a deep copy of f. Nested maps and lists are copied so that
// the clone can be mutated without affecting f.
func (f RawFields) Clone() RawFields {
	if f == nil {
		return RawFields{}
	}

	out := make(RawFields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(RawFields(t).Clone())
	case RawFields:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}

		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns the trimmed text form of the first present, non-empty key.
func (f RawFields) String(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}

		s := strings.TrimSpace(Stringify(v))
		if s != "" {
			return s, true
		}
	}

	return "", false
}

// List returns the value under key as a list. A scalar becomes a one
// element list.
func (f RawFields) List(key string) []any {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}

	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}

		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}

		return out
	default:
		return []any{t}
	}
}

// Stringify renders a scalar raw value as text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
