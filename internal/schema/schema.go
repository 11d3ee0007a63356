// Package schema declares per-step structural contracts and validates model
// output against them, with bounded structural repair of malformed output.
package schema

import (
	"fmt"
	"strings"
)

// Rule constrains a single field's value domain.
type Rule struct {
	Type  Kind     // expected JSON kind
	Enum  []string // allowed string values, empty means any
	Min   *float64 // numeric lower bound, inclusive
	Max   *float64 // numeric upper bound, inclusive
	Items *Schema  // element contract for arrays of objects
}

// Kind is the expected JSON kind of a field.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindArray
	KindObject
)

// Schema is the structural contract for one step's output: the set of
// required fields plus per-field value-domain rules.
type Schema struct {
	Name     string
	Required []string
	Rules    map[string]Rule
}

// Error reports output that could not be validated after repair was
// exhausted.
type Error struct {
	Stage      string // step or schema name
	Detail     string
	RawExcerpt string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s: %s", e.Stage, e.Detail)
}

// Code returns the stable taxonomy code for schema failures.
func (e *Error) Code() string { return "schema_error" }

// Describe renders the contract as compact JSON for embedding in a prompt.
func (s *Schema) Describe() string {
	return describeObject(s)
}

func describeObject(s *Schema) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, field := range s.Required {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %s", field, describeRule(s.Rules[field]))
	}
	b.WriteByte('}')
	return b.String()
}

func describeRule(r Rule) string {
	switch r.Type {
	case KindString:
		if len(r.Enum) > 0 {
			return fmt.Sprintf("\"one of %s\"", strings.Join(r.Enum, "|"))
		}
		return `"string"`
	case KindNumber:
		if r.Min != nil && r.Max != nil {
			return fmt.Sprintf("\"number %v..%v\"", *r.Min, *r.Max)
		}
		return `"number"`
	case KindArray:
		if r.Items != nil {
			return "[" + describeObject(r.Items) + "]"
		}
		return `["..."]`
	case KindObject:
		return `{"...": "..."}`
	}
	return `"any"`
}

// excerpt truncates raw model output for error reporting.
func excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 200 {
		return raw[:200]
	}
	return raw
}

// Validate checks a parsed object against the schema. It returns the list
// of violation messages, empty when the object conforms.
func (s *Schema) Validate(obj map[string]any) []string {
	var errs []string
	for _, field := range s.Required {
		if _, ok := obj[field]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
		}
	}
	for field, rule := range s.Rules {
		val, ok := obj[field]
		if !ok {
			continue
		}
		errs = append(errs, checkRule(field, val, rule)...)
	}
	return errs
}

func checkRule(field string, val any, rule Rule) []string {
	var errs []string
	switch rule.Type {
	case KindString:
		s, ok := val.(string)
		if !ok {
			return []string{fmt.Sprintf("field %q: expected string", field)}
		}
		if len(rule.Enum) > 0 && !inEnum(s, rule.Enum) {
			errs = append(errs, fmt.Sprintf("field %q: value %q not in %v", field, s, rule.Enum))
		}
	case KindNumber:
		n, ok := asNumber(val)
		if !ok {
			return []string{fmt.Sprintf("field %q: expected number", field)}
		}
		if rule.Min != nil && n < *rule.Min {
			errs = append(errs, fmt.Sprintf("field %q: %v below minimum %v", field, n, *rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			errs = append(errs, fmt.Sprintf("field %q: %v above maximum %v", field, n, *rule.Max))
		}
	case KindArray:
		arr, ok := val.([]any)
		if !ok {
			return []string{fmt.Sprintf("field %q: expected array", field)}
		}
		if rule.Items != nil {
			for i, item := range arr {
				obj, ok := item.(map[string]any)
				if !ok {
					errs = append(errs, fmt.Sprintf("field %q[%d]: expected object", field, i))
					continue
				}
				for _, msg := range rule.Items.Validate(obj) {
					errs = append(errs, fmt.Sprintf("field %q[%d]: %s", field, i, msg))
				}
			}
		}
	case KindObject:
		if _, ok := val.(map[string]any); !ok {
			return []string{fmt.Sprintf("field %q: expected object", field)}
		}
	}
	return errs
}

func asNumber(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func inEnum(s string, enum []string) bool {
	for _, e := range enum {
		if s == e {
			return true
		}
	}
	return false
}
