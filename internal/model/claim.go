package model

import (
	"encoding/json"
	"fmt"
)

// Span locates a claim inside the source report text (byte offsets,
// half-open interval).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the span fits inside a report of the given length.
func (s Span) Valid(reportLen int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= reportLen
}

// Claim represents a discrete factual statement extracted from the report.
// Claims are immutable once extracted.
type Claim struct {
	ID   string    `json:"claim_id"`
	Text string    `json:"text"`
	Type ClaimType `json:"claim_type"`
	Span Span      `json:"sentence_span"`
}

// ClaimType categorizes the nature of the claim
type ClaimType string

const (
	ClaimTypeFinding    ClaimType = "finding"    // Positive observation stated in the report
	ClaimTypeAbsence    ClaimType = "absence"    // Statement that something is not present
	ClaimTypeImpression ClaimType = "impression" // Diagnostic interpretation or conclusion
	ClaimTypeTechnique  ClaimType = "technique"  // Statement about how the study was acquired
)

// Finding represents a discrete observation extracted from the image,
// independent of any claim in the report.
type Finding struct {
	ID          string  `json:"finding_id"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Confidence  float64 `json:"confidence"`
	VisualCue   string  `json:"visual_cue,omitempty"`
}

// Label is the judgment relating a claim to the image evidence.
type Label string

const (
	LabelSupported     Label = "supported"
	LabelUncertain     Label = "uncertain"
	LabelNotAssessable Label = "not_assessable"
	LabelNeedsReview   Label = "needs_review"
)

// ParseLabel rejects unrecognized label values at the parse boundary.
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case LabelSupported, LabelUncertain, LabelNotAssessable, LabelNeedsReview:
		return Label(s), nil
	}
	return "", fmt.Errorf("unknown alignment label %q", s)
}

// Flagged reports whether claims with this label receive rewrite suggestions.
func (l Label) Flagged() bool {
	return l == LabelUncertain || l == LabelNeedsReview
}

// UnmarshalJSON enforces the label value domain.
func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Alignment relates one claim to zero or more findings plus a label.
// Exactly one alignment exists per claim after the alignment step.
type Alignment struct {
	ClaimID      string   `json:"claim_id"`
	Label        Label    `json:"label"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"related_finding_ids,omitempty"`
	Rationale    string   `json:"evidence,omitempty"`
	ClaimText    string   `json:"claim_text,omitempty"` // Merged in from the claim for convenience
}

// RewriteSuggestion proposes replacement text for a flagged claim.
// Only claims labeled uncertain or needs_review ever receive one.
type RewriteSuggestion struct {
	ClaimID       string `json:"claim_id"`
	OriginalText  string `json:"original"`
	SuggestedText string `json:"suggested"`
	Reason        string `json:"reason"`
}
