package schema

func ptr(f float64) *float64 { return &f }

var confidenceRule = Rule{Type: KindNumber, Min: ptr(0), Max: ptr(1)}

// ClaimExtraction is the contract for the claim extraction step.
var ClaimExtraction = &Schema{
	Name:     "claim_extraction",
	Required: []string{"claims"},
	Rules: map[string]Rule{
		"claims": {
			Type: KindArray,
			Items: &Schema{
				Name:     "claim",
				Required: []string{"claim_id", "text", "claim_type", "sentence_span"},
				Rules: map[string]Rule{
					"claim_id":      {Type: KindString},
					"text":          {Type: KindString},
					"claim_type":    {Type: KindString, Enum: []string{"finding", "absence", "impression", "technique"}},
					"sentence_span": {Type: KindObject},
				},
			},
		},
	},
}

// ImageFindings is the contract for the visual findings step.
var ImageFindings = &Schema{
	Name:     "image_findings",
	Required: []string{"findings", "image_quality"},
	Rules: map[string]Rule{
		"image_quality": {Type: KindString, Enum: []string{"adequate", "limited", "poor"}},
		"findings": {
			Type: KindArray,
			Items: &Schema{
				Name:     "finding",
				Required: []string{"finding_id", "description", "location", "confidence"},
				Rules: map[string]Rule{
					"finding_id":  {Type: KindString},
					"description": {Type: KindString},
					"location":    {Type: KindString},
					"confidence":  confidenceRule,
				},
			},
		},
	},
}

// AlignmentStep is the contract for the claim-to-evidence alignment step.
var AlignmentStep = &Schema{
	Name:     "alignment",
	Required: []string{"alignments"},
	Rules: map[string]Rule{
		"alignments": {
			Type: KindArray,
			Items: &Schema{
				Name:     "alignment",
				Required: []string{"claim_id", "label", "confidence"},
				Rules: map[string]Rule{
					"claim_id":   {Type: KindString},
					"label":      {Type: KindString, Enum: []string{"supported", "uncertain", "not_assessable", "needs_review"}},
					"confidence": confidenceRule,
					"evidence":   {Type: KindString},
				},
			},
		},
	},
}

// Rewrite is the contract for the rewrite suggestion step.
var Rewrite = &Schema{
	Name:     "rewrite",
	Required: []string{"rewrites", "edited_report"},
	Rules: map[string]Rule{
		"edited_report": {Type: KindString},
		"rewrites": {
			Type: KindArray,
			Items: &Schema{
				Name:     "rewrite_suggestion",
				Required: []string{"claim_id", "original", "suggested", "reason"},
				Rules: map[string]Rule{
					"claim_id":  {Type: KindString},
					"original":  {Type: KindString},
					"suggested": {Type: KindString},
					"reason":    {Type: KindString},
				},
			},
		},
	},
}

// ClinicianSummary is the contract for the clinician summary step.
var ClinicianSummary = &Schema{
	Name:     "clinician_summary",
	Required: []string{"summary", "key_concerns", "recommendation"},
	Rules: map[string]Rule{
		"summary":        {Type: KindString},
		"key_concerns":   {Type: KindArray},
		"recommendation": {Type: KindString, Enum: []string{"no_action_needed", "review_recommended", "urgent_review"}},
	},
}

// PatientExplain is the contract for the patient explanation step.
var PatientExplain = &Schema{
	Name:     "patient_explain",
	Required: []string{"plain_language_summary"},
	Rules: map[string]Rule{
		"plain_language_summary": {Type: KindString},
		"what_was_found":         {Type: KindString},
		"what_it_means":          {Type: KindString},
		"next_steps":             {Type: KindString},
	},
}
