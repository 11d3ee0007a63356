package model

import "time"

// EventType classifies audit trail events.
type EventType string

const (
	// Pipeline lifecycle
	EventPipelineStart    EventType = "pipeline.start"
	EventClaimExtraction  EventType = "pipeline.claim_extraction"
	EventImageFindings    EventType = "pipeline.image_findings"
	EventAlignment        EventType = "pipeline.alignment"
	EventScoring          EventType = "pipeline.scoring"
	EventRewrite          EventType = "pipeline.rewrite"
	EventClinicianSummary EventType = "pipeline.clinician_summary"
	EventPatientExplain   EventType = "pipeline.patient_explain"
	EventPipelineComplete EventType = "pipeline.complete"
	EventPipelineError    EventType = "pipeline.error"
	EventSchemaRepair     EventType = "pipeline.schema_repair"

	// Batch lifecycle
	EventBatchStart      EventType = "batch.start"
	EventBatchCaseDone   EventType = "batch.case_done"
	EventBatchCaseFailed EventType = "batch.case_failed"
	EventBatchDuplicate  EventType = "batch.duplicate_case"
	EventBatchComplete   EventType = "batch.complete"

	// User actions
	EventUserAcceptRewrite EventType = "user.accept_rewrite"
	EventUserRejectRewrite EventType = "user.reject_rewrite"
	EventUserExport        EventType = "user.export"
	EventUserView          EventType = "user.view"
)

// AuditEvent is one append-only entry in a case's audit trail. Events are
// never mutated or deleted once written.
type AuditEvent struct {
	ID        string            `json:"event_id"`
	CaseID    string            `json:"case_id"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Type      EventType         `json:"event_type"`
	Details   map[string]string `json:"details,omitempty"`
}
