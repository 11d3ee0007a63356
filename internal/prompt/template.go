// Package prompt holds the versioned prompt templates and renders them by
// named-variable substitution.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
)

// TemplateError reports a missing required variable or an unknown template.
// It is a configuration error: never retried.
type TemplateError struct {
	Template string
	Variable string
	Detail   string
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("template %s: missing required variable %q", e.Template, e.Variable)
	}
	return fmt.Sprintf("template %s: %s", e.Template, e.Detail)
}

// Code returns the stable taxonomy code for template failures.
func (e *TemplateError) Code() string { return "template_error" }

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Template is one named prompt with {placeholder} variables.
type Template struct {
	Name string
	Text string
}

// Render substitutes named variables into the template. Every placeholder
// in the template must be present in vars.
func (t Template) Render(vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(t.Text, func(m string) string {
		name := m[1 : len(m)-1]
		val, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return val
	})
	if missing != "" {
		return "", &TemplateError{Template: t.Name, Variable: missing}
	}
	return out, nil
}

// Registry maps version -> template name -> template. Callers select a
// version explicitly; there is no implicit latest.
type Registry struct {
	versions map[string]map[string]Template
}

// NewRegistry returns a registry seeded with the built-in template set.
func NewRegistry() *Registry {
	return &Registry{versions: builtinTemplates()}
}

// Get looks up a template by version and name.
func (r *Registry) Get(version, name string) (Template, error) {
	byName, ok := r.versions[version]
	if !ok {
		return Template{}, &TemplateError{Template: name, Detail: fmt.Sprintf("unknown template version %q", version)}
	}
	t, ok := byName[name]
	if !ok {
		return Template{}, &TemplateError{Template: name, Detail: fmt.Sprintf("not present in version %q", version)}
	}
	return t, nil
}

// Versions lists the available template versions, sorted.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
