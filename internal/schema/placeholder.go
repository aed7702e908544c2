package schema

import "strings"

// Words a model echoes back when it copies the schema instead of reading
// the document.
var schemaKeywords = map[string]bool{
	"object":  true,
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"null":    true,
}

// Keys of a JSON Schema node; never a trait name.
var schemaKeys = map[string]bool{
	"type":                 true,
	"properties":           true,
	"description":          true,
	"required":             true,
	"items":                true,
	"additionalProperties": true,
	"$schema":              true,
}

// HasRealData reports whether obj holds extracted content rather than an
// echo of the schema or an empty shell.
func (s *Schema) HasRealData(obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}

	if t, ok := obj["type"].(string); ok && s.realString(t, "type", 2) {
		return true
	}
	if label, ok := obj["typeLabel"].(string); ok && len(strings.TrimSpace(label)) > 3 {
		return true
	}
	for _, key := range []string{"traits", "scores"} {
		if m, ok := obj[key].(map[string]any); ok && hasScore(m) {
			return true
		}
	}

	switch s.Kind {
	case KindBig5:
		for _, trait := range big5Traits {
			if isNumber(obj[trait]) {
				return true
			}
		}
	case KindGeneric:
		if summary, ok := obj["summary"].(string); ok && s.realString(summary, "summary", 3) {
			return true
		}
	}
	return false
}

func (s *Schema) realString(v, name string, minLen int) bool {
	v = strings.TrimSpace(v)
	if len(v) < minLen {
		return false
	}
	if schemaKeywords[strings.ToLower(v)] {
		return false
	}
	if hint, ok := s.Fields[name]; ok && strings.EqualFold(v, hint) {
		return false
	}
	return true
}

// hasScore reports whether m maps at least one trait name to a number.
func hasScore(m map[string]any) bool {
	for k, v := range m {
		if !schemaKeys[k] && isNumber(v) {
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
