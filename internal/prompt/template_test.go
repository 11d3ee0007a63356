package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestTemplate_Render(t *testing.T) {
	tmpl := Template{Name: "greet", Text: "Hello {name}, report: {report_text}"}
	out, err := tmpl.Render(map[string]string{
		"name":        "world",
		"report_text": "all clear",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello world, report: all clear" {
		t.Errorf("unexpected render output: %q", out)
	}
}

func TestTemplate_Render_MissingVariable(t *testing.T) {
	tmpl := Template{Name: "greet", Text: "Hello {name}"}
	_, err := tmpl.Render(map[string]string{})
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
	if terr.Variable != "name" {
		t.Errorf("expected missing variable %q, got %q", "name", terr.Variable)
	}
	if terr.Code() != "template_error" {
		t.Errorf("expected code template_error, got %q", terr.Code())
	}
}

func TestTemplate_Render_ExtraVarsIgnored(t *testing.T) {
	tmpl := Template{Name: "greet", Text: "Hello {name}"}
	out, err := tmpl.Render(map[string]string{"name": "x", "unused": "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello x" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()

	steps := []string{
		ClaimExtraction,
		ImageFindings,
		Alignment,
		Rewrite,
		ClinicianSummary,
		PatientExplain,
	}
	for _, name := range steps {
		tmpl, err := reg.Get("v1", name)
		if err != nil {
			t.Errorf("Get(v1, %s): %v", name, err)
			continue
		}
		if tmpl.Text == "" {
			t.Errorf("template %s has empty text", name)
		}
	}
}

func TestRegistry_Get_UnknownVersion(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("v99", ClaimExtraction)
	if err == nil {
		t.Fatal("expected error for unknown version")
	}
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
}

func TestRegistry_Get_UnknownTemplate(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("v1", "nonexistent"); err == nil {
		t.Fatal("expected error for unknown template name")
	}
}

func TestRegistry_Versions(t *testing.T) {
	versions := NewRegistry().Versions()
	if len(versions) == 0 {
		t.Fatal("expected at least one version")
	}
	found := false
	for _, v := range versions {
		if v == "v1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected v1 in versions, got %v", versions)
	}
}

func TestBuiltinTemplates_RenderWithStepVars(t *testing.T) {
	reg := NewRegistry()

	vars := map[string]string{
		"report_text":      "No acute findings.",
		"schema":           "{}",
		"claims_json":      "[]",
		"findings_json":    "[]",
		"flagged_json":     "[]",
		"overall_score":    "92",
		"severity":         "low",
		"flag_counts_json": "{}",
	}
	for _, name := range []string{ClaimExtraction, ImageFindings, Alignment, Rewrite, ClinicianSummary, PatientExplain} {
		tmpl, err := reg.Get("v1", name)
		if err != nil {
			t.Fatalf("Get(v1, %s): %v", name, err)
		}
		out, err := tmpl.Render(vars)
		if err != nil {
			t.Errorf("render %s: %v", name, err)
			continue
		}
		if strings.Contains(out, "{report_text}") {
			t.Errorf("template %s left placeholder unsubstituted", name)
		}
	}
}
