package prompt

// Step template names. Each pipeline step renders exactly one of these,
// except the retry path which appends StrictSuffix.
const (
	ClaimExtraction  = "claim_extraction"
	ImageFindings    = "image_findings"
	Alignment        = "alignment"
	Rewrite          = "rewrite"
	ClinicianSummary = "clinician_summary"
	PatientExplain   = "patient_explain"
)

// StrictSuffix is appended to a step prompt when the first attempt produced
// output that failed schema validation.
const StrictSuffix = "\n\nIMPORTANT: Your previous response was not valid JSON matching the required schema. Respond with ONLY a single valid JSON object and nothing else. No prose, no markdown fences."

func builtinTemplates() map[string]map[string]Template {
	v1 := map[string]string{
		ClaimExtraction: `You are auditing a radiology report. Extract every discrete factual claim from the report below. For each claim record its exact text, its character span in the report, and its type (finding, absence, impression, or technique).

Report:
{report_text}

Respond with a single JSON object matching this schema:
{schema}`,

		ImageFindings: `You are reading a radiology image with no report context. List every visual finding you observe: description, anatomical location, your confidence from 0 to 1, and the visual cue behind it. Also rate the image quality (adequate, limited, or poor). Do not assume anything about what a report might say.

Respond with a single JSON object matching this schema:
{schema}`,

		Alignment: `Judge how well each claim from a radiology report is supported by the visual findings below. For each claim emit exactly one alignment with a label: supported, uncertain, not_assessable, or needs_review. Cite the finding ids that informed the judgment and explain the evidence briefly.

Claims:
{claims_json}

Findings:
{findings_json}

Respond with a single JSON object matching this schema:
{schema}`,

		Rewrite: `The following radiology report claims were flagged as uncertain or needing review. Suggest a calibrated rewrite for each flagged claim, and return the full report with the suggestions applied. Do not alter any claim that is not listed below.

Report:
{report_text}

Flagged alignments:
{flagged_json}

Respond with a single JSON object matching this schema:
{schema}`,

		ClinicianSummary: `Summarize the following report audit for the reviewing clinician. Overall score {overall_score}/100, severity {severity}. Flag counts: {flag_counts_json}. Flagged claims:
{flagged_json}

Respond with a single JSON object matching this schema:
{schema}`,

		PatientExplain: `Explain the following radiology report to the patient in plain, non-alarming language. Avoid jargon; state what was found, what it may mean, and sensible next steps.

Report:
{report_text}

Respond with a single JSON object matching this schema:
{schema}`,
	}

	byName := make(map[string]Template, len(v1))
	for name, text := range v1 {
		byName[name] = Template{Name: name, Text: text}
	}
	return map[string]map[string]Template{"v1": byName}
}
