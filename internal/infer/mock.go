package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockProvider returns deterministic structured results without a model,
// so the full pipeline can run offline. Claims are derived from the report
// text embedded in the prompt; labels follow simple hedging heuristics.
type MockProvider struct{}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name returns the provider name
func (p *MockProvider) Name() string { return "mock" }

// IsAvailable always reports true.
func (p *MockProvider) IsAvailable(ctx context.Context) bool { return true }

// Infer detects which step the prompt belongs to and fabricates a
// schema-conformant response for it.
func (p *MockProvider) Infer(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Provider: p.Name(), Cause: err}
	}

	prompt := req.Prompt
	switch {
	case strings.Contains(prompt, "Extract every discrete factual claim"):
		return p.mockClaims(reportFromPrompt(prompt))
	case strings.Contains(prompt, "List every visual finding"):
		return p.mockFindings()
	case strings.Contains(prompt, "emit exactly one alignment"):
		return p.mockAlignments(prompt)
	case strings.Contains(prompt, "Suggest a calibrated rewrite"):
		return p.mockRewrites(prompt)
	case strings.Contains(prompt, "for the reviewing clinician"):
		return p.mockClinicianSummary(prompt)
	case strings.Contains(prompt, "to the patient in plain"):
		return p.mockPatientExplain()
	}
	return "", &Error{Provider: p.Name(), Cause: fmt.Errorf("unrecognized prompt")}
}

// reportFromPrompt pulls the report text embedded between the Report:
// header and whatever section follows it.
func reportFromPrompt(prompt string) string {
	_, after, ok := strings.Cut(prompt, "Report:\n")
	if !ok {
		return ""
	}
	body, _, _ := strings.Cut(after, "\n\nFlagged alignments:")
	body, _, _ = strings.Cut(body, "\n\nRespond")
	return body
}

// sentences splits on '.' keeping byte offsets so claim spans stay valid
// against the source text.
type sentence struct {
	text       string
	start, end int
}

func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '.' {
			s := sentence{text: strings.TrimSpace(text[start : i+1]), start: start, end: i + 1}
			// Skip leading whitespace in the span
			for s.start < s.end && (text[s.start] == ' ' || text[s.start] == '\n') {
				s.start++
			}
			if s.text != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	return out
}

func labelFor(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "suspected") || strings.Contains(lower, "compatible with"):
		return "needs_review"
	case strings.Contains(lower, "possib") || strings.Contains(lower, "may ") || strings.Contains(lower, "suggest"):
		return "uncertain"
	}
	return "supported"
}

func (p *MockProvider) mockClaims(report string) (string, error) {
	sents := splitSentences(report)
	claims := make([]map[string]any, 0, len(sents))
	for i, s := range sents {
		claimType := "finding"
		if strings.Contains(strings.ToLower(s.text), "no ") {
			claimType = "absence"
		}
		claims = append(claims, map[string]any{
			"claim_id":      fmt.Sprintf("c%d", i+1),
			"text":          s.text,
			"claim_type":    claimType,
			"sentence_span": map[string]int{"start": s.start, "end": s.end},
		})
	}
	return marshal(map[string]any{"claims": claims})
}

func (p *MockProvider) mockFindings() (string, error) {
	return marshal(map[string]any{
		"image_quality": "adequate",
		"findings": []map[string]any{
			{"finding_id": "f1", "description": "Focal opacity in the right lower zone", "location": "right lower lobe", "confidence": 0.82, "visual_cue": "Dense area replacing normal lung markings"},
			{"finding_id": "f2", "description": "Sharp costophrenic angles bilaterally", "location": "bilateral costophrenic angles", "confidence": 0.9, "visual_cue": "No blunting or meniscus sign"},
			{"finding_id": "f3", "description": "Cardiac silhouette within normal limits", "location": "mediastinum", "confidence": 0.88, "visual_cue": "Cardiothoracic ratio below 0.5"},
		},
	})
}

func (p *MockProvider) mockAlignments(prompt string) (string, error) {
	claims := claimsFromPrompt(prompt)
	alignments := make([]map[string]any, 0, len(claims))
	for _, c := range claims {
		label := labelFor(c.Text)
		conf := 0.9
		if label != "supported" {
			conf = 0.6
		}
		alignments = append(alignments, map[string]any{
			"claim_id":            c.ID,
			"label":               label,
			"confidence":          conf,
			"evidence":            "Judged against the listed findings.",
			"related_finding_ids": []string{"f1"},
		})
	}
	return marshal(map[string]any{"alignments": alignments})
}

func (p *MockProvider) mockRewrites(prompt string) (string, error) {
	flagged := flaggedFromPrompt(prompt)
	report := reportFromPrompt(prompt)
	rewrites := make([]map[string]any, 0, len(flagged))
	edited := report
	for _, f := range flagged {
		suggested := "There may be " + strings.ToLower(strings.TrimSuffix(f.Text, ".")) + "; clinical correlation is recommended."
		rewrites = append(rewrites, map[string]any{
			"claim_id":  f.ID,
			"original":  f.Text,
			"suggested": suggested,
			"reason":    "Claim exceeds the imaging evidence and should be hedged.",
		})
		if f.Text != "" {
			edited = strings.Replace(edited, f.Text, suggested, 1)
		}
	}
	return marshal(map[string]any{"rewrites": rewrites, "edited_report": edited})
}

func (p *MockProvider) mockClinicianSummary(prompt string) (string, error) {
	concerns := []string{}
	if strings.Contains(prompt, "needs_review") || strings.Contains(prompt, "uncertain") {
		concerns = append(concerns, "One or more claims were flagged for verification against the image.")
	}
	recommendation := "no_action_needed"
	if len(concerns) > 0 {
		recommendation = "review_recommended"
	}
	return marshal(map[string]any{
		"summary":         "Automated audit of report claims against image findings.",
		"key_concerns":    concerns,
		"recommendation":  recommendation,
		"confidence_note": "Generated by the mock inference backend.",
	})
}

func (p *MockProvider) mockPatientExplain() (string, error) {
	return marshal(map[string]any{
		"plain_language_summary": "Your imaging was reviewed and compared against the written report.",
		"what_was_found":         "The main statements in your report were checked against the picture.",
		"what_it_means":          "Your doctor will walk you through anything that was flagged.",
		"next_steps":             "Follow up with your doctor to discuss the results.",
	})
}

type promptClaim struct {
	ID   string `json:"claim_id"`
	Text string `json:"text"`
}

func claimsFromPrompt(prompt string) []promptClaim {
	_, after, ok := strings.Cut(prompt, "Claims:\n")
	if !ok {
		return nil
	}
	body, _, _ := strings.Cut(after, "\n\nFindings:")
	var claims []promptClaim
	_ = json.Unmarshal([]byte(body), &claims)
	return claims
}

type promptFlagged struct {
	ID   string `json:"claim_id"`
	Text string `json:"claim_text"`
}

func flaggedFromPrompt(prompt string) []promptClaim {
	_, after, ok := strings.Cut(prompt, "Flagged alignments:\n")
	if !ok {
		return nil
	}
	body, _, _ := strings.Cut(after, "\n\nRespond")
	var flagged []promptFlagged
	_ = json.Unmarshal([]byte(body), &flagged)
	out := make([]promptClaim, 0, len(flagged))
	for _, f := range flagged {
		out = append(out, promptClaim{ID: f.ID, Text: f.Text})
	}
	return out
}

func marshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
