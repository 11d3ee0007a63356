package schema

import (
	"encoding/json"
	"strings"
)

// RepairStrategy is a pure text transform applied to malformed output. Each
// strategy reshapes structure only; none invents field values.
type RepairStrategy func(string) string

// repairStrategies are applied in order until one yields output that parses
// and validates, or the list is exhausted. The list length is the repair
// attempt budget.
var repairStrategies = []RepairStrategy{
	StripFencing,
	BalanceBrackets,
	ExtractFirstObject,
}

// ValidateOrRepair parses raw model output against the schema. On a direct
// parse-and-validate success it returns repaired=false. Otherwise it runs
// the bounded repair passes and reports repaired=true for the first pass
// whose output both parses and validates. When every pass fails it returns
// a *Error carrying the stage name and a raw excerpt.
func ValidateOrRepair(raw string, s *Schema) (map[string]any, bool, error) {
	if obj, ok := tryParse(raw, s); ok {
		return obj, false, nil
	}

	text := raw
	for _, strategy := range repairStrategies {
		text = strategy(text)
		if obj, ok := tryParse(text, s); ok {
			return obj, true, nil
		}
	}

	detail := "no valid object after repair"
	if obj := parseObject(raw); obj != nil {
		detail = strings.Join(s.Validate(obj), "; ")
	}
	return nil, false, &Error{Stage: s.Name, Detail: detail, RawExcerpt: excerpt(raw)}
}

func tryParse(text string, s *Schema) (map[string]any, bool) {
	obj := parseObject(text)
	if obj == nil {
		return nil, false
	}
	if len(s.Validate(obj)) > 0 {
		return nil, false
	}
	return obj, true
}

func parseObject(text string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil
	}
	return obj
}

// StripFencing removes surrounding prose and markdown code fences, keeping
// the fenced body when a fence is present, otherwise the text from the first
// opening brace.
func StripFencing(text string) string {
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		// Drop an optional language tag on the fence line
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && len(strings.Fields(body[:nl])) <= 1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	if brace := strings.IndexByte(text, '{'); brace > 0 {
		return text[brace:]
	}
	return text
}

// BalanceBrackets appends closing braces/brackets for any left unmatched,
// in nesting order. String contents are skipped so braces inside values do
// not count.
func BalanceBrackets(text string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// ExtractFirstObject returns the first top-level structurally balanced
// object found by bracket counting, or the input unchanged when none exists.
func ExtractFirstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}
