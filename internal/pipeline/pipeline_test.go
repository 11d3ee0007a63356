package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carmmmm/RadiologyTrustLayer/internal/audit"
	"github.com/carmmmm/RadiologyTrustLayer/internal/infer"
	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/prompt"
	"github.com/carmmmm/RadiologyTrustLayer/internal/schema"
	"github.com/carmmmm/RadiologyTrustLayer/internal/score"
	"github.com/carmmmm/RadiologyTrustLayer/internal/store"
)

const testReport = "Focal opacity in the right lower lobe. No pleural effusion. Findings possibly suggest early pneumonia."

// failAfter delegates to the mock provider but fails any prompt containing
// the trigger substring.
type failAfter struct {
	inner   infer.Provider
	trigger string
	err     error
}

func (p *failAfter) Name() string                         { return p.inner.Name() }
func (p *failAfter) IsAvailable(ctx context.Context) bool { return true }

func (p *failAfter) Infer(ctx context.Context, req infer.Request) (string, error) {
	if strings.Contains(req.Prompt, p.trigger) {
		return "", p.err
	}
	return p.inner.Infer(ctx, req)
}

func newTestPipeline(provider infer.Provider, st store.Store) *Pipeline {
	cfg := model.DefaultConfig()
	steps := NewStepExecutor(provider, prompt.NewRegistry(), cfg.Prompts.Version, cfg.Inference.MaxTokens, nil)
	scorer := score.NewScorer(cfg.Scoring)
	recorder := audit.NewRecorder(st, nil)
	return New(steps, scorer, recorder, st, cfg, nil)
}

func testInput() CaseInput {
	return CaseInput{
		CaseID:     "case-1",
		Label:      "chest-001",
		Image:      []byte{0x89, 0x50, 0x4e, 0x47},
		ReportText: testReport,
	}
}

func TestPipeline_Run_Completed(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(infer.NewMockProvider(), st)

	var states []State
	result, err := p.Run(context.Background(), testInput(), func(pr Progress) {
		states = append(states, pr.State)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s: %s)", result.Status, result.ErrorCode, result.ErrorDetail)
	}
	if len(result.Claims) != 3 {
		t.Errorf("expected 3 claims, got %d", len(result.Claims))
	}
	if len(result.Findings) == 0 {
		t.Error("expected findings")
	}
	if len(result.Alignments) != len(result.Claims) {
		t.Errorf("expected one alignment per claim, got %d for %d claims",
			len(result.Alignments), len(result.Claims))
	}
	if result.ImageQuality == "" {
		t.Error("expected image quality to be recorded")
	}

	// One hedged claim: 100 - 8 = 92, low severity, one rewrite.
	if result.Score != 92 {
		t.Errorf("expected score 92, got %d", result.Score)
	}
	if result.Severity != model.SeverityLow {
		t.Errorf("expected low severity, got %s", result.Severity)
	}
	if len(result.Rewrites) != 1 {
		t.Errorf("expected 1 rewrite for the flagged claim, got %d", len(result.Rewrites))
	}
	if result.EditedReport == "" || result.EditedReport == result.OriginalReport {
		t.Error("expected edited report to differ from original")
	}
	if result.ClinicianSummary == nil || result.PatientExplanation == nil {
		t.Fatal("expected both summaries")
	}
	if result.ClinicianSummary.Recommendation == "" {
		t.Error("expected a clinician recommendation")
	}

	want := []State{StateClaimsExtracted, StateFindingsExtracted, StateAligned, StateScored, StateRewritten, StateSummarized}
	if len(states) != len(want) {
		t.Fatalf("expected %d state transitions, got %d: %v", len(want), len(states), states)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("transition %d: expected %s, got %s", i, s, states[i])
		}
	}

	// Terminal result persisted.
	stored, err := st.GetCase(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if stored.Status != model.StatusCompleted {
		t.Errorf("persisted status %s, want completed", stored.Status)
	}

	// Audit trail brackets the run.
	events, err := st.ListEvents(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	if events[0].Type != model.EventPipelineStart {
		t.Errorf("first event %s, want %s", events[0].Type, model.EventPipelineStart)
	}
	sawComplete := false
	for _, ev := range events {
		if ev.Type == model.EventPipelineComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("expected a pipeline.complete event")
	}
}

func TestPipeline_Run_FindingsFailureIsFailed(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &failAfter{
		inner:   infer.NewMockProvider(),
		trigger: "List every visual finding",
		err:     &infer.Error{Provider: "mock", Cause: errors.New("backend down")},
	}
	p := newTestPipeline(provider, st)

	result, err := p.Run(context.Background(), testInput(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.StatusFailed {
		t.Errorf("failure before findings must be failed, got %s", result.Status)
	}
	if result.ErrorCode != "inference_error" {
		t.Errorf("expected inference_error, got %s", result.ErrorCode)
	}
	// Claims from the completed first step are preserved.
	if len(result.Claims) != 3 {
		t.Errorf("expected claims preserved, got %d", len(result.Claims))
	}
	if len(result.Findings) != 0 {
		t.Error("expected no findings")
	}
}

func TestPipeline_Run_RewriteFailureIsPartial(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &failAfter{
		inner:   infer.NewMockProvider(),
		trigger: "Suggest a calibrated rewrite",
		err:     &infer.Error{Provider: "mock", Cause: errors.New("backend down")},
	}
	p := newTestPipeline(provider, st)

	result, err := p.Run(context.Background(), testInput(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.StatusPartial {
		t.Errorf("failure after both extractions must be partial, got %s", result.Status)
	}
	// Everything up to scoring survives.
	if len(result.Claims) == 0 || len(result.Findings) == 0 || len(result.Alignments) == 0 {
		t.Error("expected prior step outputs preserved in partial result")
	}
	if result.Score != 92 {
		t.Errorf("expected score preserved, got %d", result.Score)
	}
	if len(result.Rewrites) != 0 {
		t.Error("expected no rewrites in partial result")
	}
}

func TestPipeline_Run_SummaryFailureIsPartial(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &failAfter{
		inner:   infer.NewMockProvider(),
		trigger: "for the reviewing clinician",
		err:     &infer.Error{Provider: "mock", Cause: errors.New("backend down")},
	}
	p := newTestPipeline(provider, st)

	result, err := p.Run(context.Background(), testInput(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.StatusPartial {
		t.Errorf("summary failure must be partial, got %s", result.Status)
	}
	if result.EditedReport == "" {
		t.Error("expected rewrite output preserved")
	}
	if result.ClinicianSummary != nil {
		t.Error("expected no clinician summary after its step failed")
	}
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(infer.NewMockProvider(), st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Run(ctx, testInput(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.StatusFailed {
		t.Errorf("cancellation before any step must be failed, got %s", result.Status)
	}
	if result.ErrorCode != "cancelled" {
		t.Errorf("expected cancelled, got %s", result.ErrorCode)
	}
}

// ctxStrictStore refuses writes once the caller's context is done, the way
// a real database driver would.
type ctxStrictStore struct {
	store.Store
}

func (s *ctxStrictStore) UpdateCase(ctx context.Context, result *model.CaseResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateCase(ctx, result)
}

func (s *ctxStrictStore) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendEvent(ctx, event)
}

// A cancelled run must still land its error trail: the terminal event and
// the frozen result are written even though the run's context is done.
func TestPipeline_Run_Cancelled_PersistsErrorTrail(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(infer.NewMockProvider(), &ctxStrictStore{Store: mem})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Run(ctx, testInput(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ErrorCode != "cancelled" {
		t.Fatalf("expected cancelled, got %s", result.ErrorCode)
	}

	stored, err := mem.GetCase(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("GetCase after cancellation: %v", err)
	}
	if stored.Status != model.StatusFailed {
		t.Errorf("persisted status = %s, want failed", stored.Status)
	}

	events, err := mem.ListEvents(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	sawError := false
	for _, ev := range events {
		if ev.Type == model.EventPipelineError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected a pipeline.error event despite cancellation")
	}
}

func TestPipeline_Run_GeneratesCaseID(t *testing.T) {
	p := newTestPipeline(infer.NewMockProvider(), store.NewMemoryStore())

	input := testInput()
	input.CaseID = ""
	result, err := p.Run(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CaseID == "" {
		t.Error("expected generated case id")
	}
}

func TestReconcileAlignments(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(infer.NewMockProvider(), st)

	result := &model.CaseResult{
		CaseID: "case-1",
		Claims: []model.Claim{
			{ID: "c1", Text: "First claim."},
			{ID: "c2", Text: "Second claim."},
		},
	}
	raw := []model.Alignment{
		{ClaimID: "c1", Label: model.LabelSupported, Confidence: 0.9},
		{ClaimID: "c1", Label: model.LabelNeedsReview, Confidence: 0.5}, // duplicate, discarded
		{ClaimID: "cX", Label: model.LabelSupported, Confidence: 0.8},   // unknown, discarded
		// c2 missing entirely
	}

	out := p.reconcileAlignments(context.Background(), result, raw)
	if len(out) != 2 {
		t.Fatalf("expected exactly one alignment per claim, got %d", len(out))
	}
	if out[0].ClaimID != "c1" || out[0].Label != model.LabelSupported {
		t.Errorf("first alignment per claim must win, got %+v", out[0])
	}
	if out[0].ClaimText != "First claim." {
		t.Errorf("claim text not merged in: %+v", out[0])
	}
	if out[1].ClaimID != "c2" || out[1].Label != model.LabelNotAssessable || out[1].Confidence != 0 {
		t.Errorf("missing alignment must default to not_assessable/0, got %+v", out[1])
	}

	events, _ := st.ListEvents(context.Background(), "case-1")
	issues := map[string]bool{}
	for _, ev := range events {
		if issue, ok := ev.Details["issue"]; ok {
			issues[issue] = true
		}
	}
	for _, want := range []string{"duplicate_alignment", "unknown_claim", "missing_alignment"} {
		if !issues[want] {
			t.Errorf("expected an audit event with issue %q", want)
		}
	}
}

func TestRewriteFlagged_NoFlaggedSkipsInference(t *testing.T) {
	p2 := &scriptedProvider{}
	p := newTestPipeline(p2, store.NewMemoryStore())

	result := &model.CaseResult{
		CaseID:         "case-1",
		OriginalReport: testReport,
		Alignments: []model.Alignment{
			{ClaimID: "c1", Label: model.LabelSupported},
			{ClaimID: "c2", Label: model.LabelNotAssessable},
		},
	}
	if err := p.rewriteFlagged(context.Background(), result); err != nil {
		t.Fatalf("rewriteFlagged: %v", err)
	}
	if len(p2.prompts) != 0 {
		t.Errorf("no flagged claims must mean no inference call, got %d", len(p2.prompts))
	}
	if result.EditedReport != result.OriginalReport {
		t.Error("edited report must equal original when nothing is flagged")
	}
	if len(result.Rewrites) != 0 {
		t.Error("expected no rewrites")
	}
}

func TestRewriteFlagged_UnflaggedSuggestionsDiscarded(t *testing.T) {
	p2 := &scriptedProvider{responses: []string{
		`{"edited_report": "Edited.", "rewrites": [
			{"claim_id": "c1", "original": "a", "suggested": "b", "reason": "r"},
			{"claim_id": "c2", "original": "c", "suggested": "d", "reason": "r"}
		]}`,
	}}
	p := newTestPipeline(p2, store.NewMemoryStore())

	result := &model.CaseResult{
		CaseID:         "case-1",
		OriginalReport: testReport,
		Alignments: []model.Alignment{
			{ClaimID: "c1", Label: model.LabelSupported},
			{ClaimID: "c2", Label: model.LabelUncertain},
		},
	}
	if err := p.rewriteFlagged(context.Background(), result); err != nil {
		t.Fatalf("rewriteFlagged: %v", err)
	}
	if len(result.Rewrites) != 1 || result.Rewrites[0].ClaimID != "c2" {
		t.Errorf("only flagged claims may keep rewrites, got %+v", result.Rewrites)
	}
	if result.EditedReport != "Edited." {
		t.Errorf("unexpected edited report %q", result.EditedReport)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"inference", &infer.Error{Provider: "x", Cause: errors.New("down")}, "inference_error"},
		{"schema", &schema.Error{Stage: "s", Detail: "d"}, "schema_error"},
		{"template", &prompt.TemplateError{Template: "t", Variable: "v"}, "template_error"},
		{"consistency", &DataConsistencyError{Detail: "d"}, "data_consistency_error"},
		{"store", &store.Error{Op: "write", Cause: errors.New("locked")}, "persistence_error"},
		{"cancelled", context.Canceled, "cancelled"},
		{"deadline", context.DeadlineExceeded, "cancelled"},
		{"plain", errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClampSpan(t *testing.T) {
	tests := []struct {
		name string
		in   model.Span
		want model.Span
	}{
		{"negative start", model.Span{Start: -3, End: 5}, model.Span{Start: 0, End: 5}},
		{"end past report", model.Span{Start: 2, End: 50}, model.Span{Start: 2, End: 10}},
		{"inverted", model.Span{Start: 8, End: 4}, model.Span{Start: 0, End: 10}},
		{"valid untouched", model.Span{Start: 1, End: 9}, model.Span{Start: 1, End: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampSpan(tt.in, 10); got != tt.want {
				t.Errorf("clampSpan(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
