package schema

import (
	"errors"
	"testing"
)

var testSchema = &Schema{
	Name:     "test",
	Required: []string{"claims"},
	Rules: map[string]Rule{
		"claims": {Type: KindArray},
	},
}

func TestValidateOrRepair_CleanInput(t *testing.T) {
	obj, repaired, err := ValidateOrRepair(`{"claims": []}`, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repaired {
		t.Error("expected repaired=false for clean input")
	}
	if _, ok := obj["claims"]; !ok {
		t.Error("expected claims field in parsed object")
	}
}

func TestValidateOrRepair_FencedJSON(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"claims\": [{\"claim_id\": \"c1\"}]}\n```\nLet me know if you need more."
	obj, repaired, err := ValidateOrRepair(raw, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repaired {
		t.Error("expected repaired=true for fenced input")
	}
	claims, ok := obj["claims"].([]any)
	if !ok || len(claims) != 1 {
		t.Errorf("expected one claim after repair, got %v", obj["claims"])
	}
}

func TestValidateOrRepair_TruncatedOutput(t *testing.T) {
	raw := `{"claims": [{"claim_id": "c1"}`
	obj, repaired, err := ValidateOrRepair(raw, testSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repaired {
		t.Error("expected repaired=true for truncated input")
	}
	if _, ok := obj["claims"]; !ok {
		t.Error("expected claims field after bracket balancing")
	}
}

func TestValidateOrRepair_Exhaustion(t *testing.T) {
	_, _, err := ValidateOrRepair("this is not json at all", testSchema)
	if err == nil {
		t.Fatal("expected error for unrepairable input")
	}
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *schema.Error, got %T", err)
	}
	if serr.Stage != "test" {
		t.Errorf("expected stage %q, got %q", "test", serr.Stage)
	}
	if serr.Code() != "schema_error" {
		t.Errorf("expected code schema_error, got %q", serr.Code())
	}
}

func TestValidateOrRepair_ValidJSONWrongShape(t *testing.T) {
	_, _, err := ValidateOrRepair(`{"other": 1}`, testSchema)
	if err == nil {
		t.Fatal("expected error when required field is missing")
	}
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *schema.Error, got %T", err)
	}
	if serr.Detail == "" {
		t.Error("expected violation detail in error")
	}
}

func TestValidateOrRepair_ExcerptTruncated(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	_, _, err := ValidateOrRepair(string(long), testSchema)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *schema.Error, got %T", err)
	}
	if len(serr.RawExcerpt) > 200 {
		t.Errorf("expected excerpt capped at 200 bytes, got %d", len(serr.RawExcerpt))
	}
}

func TestStripFencing(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"fenced with language tag", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without tag", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", `Sure: {"a": 1}`, `{"a": 1}`},
		{"already clean", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFencing(tt.input); got != tt.want {
				t.Errorf("StripFencing(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBalanceBrackets(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing closers", `{"a": [1, 2`, `{"a": [1, 2]}`},
		{"unterminated string", `{"a": "text`, `{"a": "text"}`},
		{"brace inside string ignored", `{"a": "{{"}`, `{"a": "{{"}`},
		{"balanced unchanged", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BalanceBrackets(tt.input); got != tt.want {
				t.Errorf("BalanceBrackets(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractFirstObject(t *testing.T) {
	input := `noise {"a": {"b": 1}} trailing {"c": 2}`
	want := `{"a": {"b": 1}}`
	if got := ExtractFirstObject(input); got != want {
		t.Errorf("ExtractFirstObject = %q, want %q", got, want)
	}
}

func TestRepair_StrategiesArePure(t *testing.T) {
	input := `{"a": [1`
	first := BalanceBrackets(input)
	second := BalanceBrackets(input)
	if first != second {
		t.Errorf("BalanceBrackets not deterministic: %q vs %q", first, second)
	}
	balanced := BalanceBrackets(BalanceBrackets(input))
	if balanced != first {
		t.Errorf("BalanceBrackets not idempotent on balanced input: %q vs %q", balanced, first)
	}
}
