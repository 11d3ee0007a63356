package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CaseStatus is the terminal status of an audited case.
type CaseStatus string

const (
	StatusCompleted CaseStatus = "completed"
	StatusPartial   CaseStatus = "partial"
	StatusFailed    CaseStatus = "failed"
)

// ParseCaseStatus rejects unrecognized status values at the parse boundary.
func ParseCaseStatus(s string) (CaseStatus, error) {
	switch CaseStatus(s) {
	case StatusCompleted, StatusPartial, StatusFailed:
		return CaseStatus(s), nil
	}
	return "", fmt.Errorf("unknown case status %q", s)
}

// UnmarshalJSON enforces the status value domain.
func (c *CaseStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCaseStatus(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Severity is the coarse three-level classification derived from the score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FlagCounts tallies alignment labels for a case.
type FlagCounts struct {
	Supported     int `json:"supported"`
	Uncertain     int `json:"uncertain"`
	NotAssessable int `json:"not_assessable"`
	NeedsReview   int `json:"needs_review"`
}

// StepStatus records the outcome of one pipeline step.
type StepStatus struct {
	Name      string        `json:"name"`
	Completed bool          `json:"completed"`
	Repaired  bool          `json:"repaired,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// ClinicianSummary is the structured summary addressed to the reviewing
// clinician.
type ClinicianSummary struct {
	Summary        string   `json:"summary"`
	KeyConcerns    []string `json:"key_concerns"`
	Recommendation string   `json:"recommendation"`
	ConfidenceNote string   `json:"confidence_note,omitempty"`
}

// PatientExplanation is the plain-language explanation addressed to the
// patient.
type PatientExplanation struct {
	Summary      string `json:"plain_language_summary"`
	WhatWasFound string `json:"what_was_found,omitempty"`
	WhatItMeans  string `json:"what_it_means,omitempty"`
	NextSteps    string `json:"next_steps,omitempty"`
}

// CaseResult aggregates everything produced for one audited case. The
// orchestrator mutates it incrementally as steps complete; once Status is
// set the result is frozen.
type CaseResult struct {
	CaseID    string    `json:"case_id"`
	CaseLabel string    `json:"case_label,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	ImageHash  string `json:"image_hash"`
	ReportHash string `json:"report_hash"`

	ModelName     string `json:"model_name,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`

	OriginalReport string `json:"original_report"`
	EditedReport   string `json:"edited_report,omitempty"`
	ImageQuality   string `json:"image_quality,omitempty"`

	Claims     []Claim             `json:"claims,omitempty"`
	Findings   []Finding           `json:"findings,omitempty"`
	Alignments []Alignment         `json:"alignments,omitempty"`
	Rewrites   []RewriteSuggestion `json:"rewrites,omitempty"`

	Score      int        `json:"overall_score"`
	Severity   Severity   `json:"severity"`
	FlagCounts FlagCounts `json:"flag_counts"`

	ClinicianSummary   *ClinicianSummary   `json:"clinician_summary,omitempty"`
	PatientExplanation *PatientExplanation `json:"patient_explanation,omitempty"`

	Steps       []StepStatus `json:"steps"`
	Status      CaseStatus   `json:"status"`
	ErrorCode   string       `json:"error_code,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	Duplicate   bool         `json:"duplicate,omitempty"`
}

// CaseOutcome is one entry in a batch's per-case map: a result or an error.
type CaseOutcome struct {
	CaseID    string      `json:"case_id"`
	Result    *CaseResult `json:"result,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Failed reports whether the case ended without a completed result.
func (o CaseOutcome) Failed() bool {
	return o.Result == nil || o.Result.Status == StatusFailed
}

// BatchSummary carries aggregate statistics over a finished batch.
type BatchSummary struct {
	AvgScore         float64          `json:"avg_score"`
	SeverityCounts   map[Severity]int `json:"severity_distribution"`
	PctNeedingReview float64          `json:"pct_needing_review"`
}

// BatchResult aggregates the outcome of a batch run. Invariant at
// completion: Total == Done + Failed, every case appears exactly once.
type BatchResult struct {
	BatchID   string                 `json:"batch_id"`
	CreatedAt time.Time              `json:"created_at"`
	Total     int                    `json:"total"`
	Done      int                    `json:"done"`
	Failed    int                    `json:"failed"`
	Cases     map[string]CaseOutcome `json:"cases"`
	Summary   BatchSummary           `json:"summary"`
}
