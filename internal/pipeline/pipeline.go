package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carmmmm/RadiologyTrustLayer/internal/audit"
	"github.com/carmmmm/RadiologyTrustLayer/internal/fingerprint"
	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/prompt"
	"github.com/carmmmm/RadiologyTrustLayer/internal/schema"
	"github.com/carmmmm/RadiologyTrustLayer/internal/score"
	"github.com/carmmmm/RadiologyTrustLayer/internal/store"
)

// State names the orchestrator's position in the six-step sequence.
type State string

const (
	StatePending           State = "pending"
	StateClaimsExtracted   State = "claims_extracted"
	StateFindingsExtracted State = "findings_extracted"
	StateAligned           State = "aligned"
	StateScored            State = "scored"
	StateRewritten         State = "rewritten"
	StateSummarized        State = "summarized"
	StateError             State = "error"
)

// Progress is emitted after each state transition. It is the sole channel
// through which a caller observes incremental progress.
type Progress struct {
	CaseID  string
	State   State
	Elapsed time.Duration
}

// ProgressFunc receives progress notifications. May be nil.
type ProgressFunc func(Progress)

// CaseInput is one (image, report) pair to audit.
type CaseInput struct {
	CaseID     string // optional; generated when empty
	Label      string
	Image      []byte
	ReportText string
}

// Pipeline sequences the six dependent steps for one case, threading each
// step's output into the next step's input.
type Pipeline struct {
	steps    *StepExecutor
	scorer   *score.Scorer
	recorder *audit.Recorder
	store    store.Store
	cfg      *model.Config
	logger   *zap.Logger
}

// New creates a pipeline from its collaborators.
func New(steps *StepExecutor, scorer *score.Scorer, recorder *audit.Recorder, st store.Store, cfg *model.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		steps:    steps,
		scorer:   scorer,
		recorder: recorder,
		store:    st,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run audits one case end to end. The returned result always carries a
// terminal status; the error is non-nil only when the final persistence
// write failed (the in-memory result is still complete in that situation).
func (p *Pipeline) Run(ctx context.Context, input CaseInput, onProgress ProgressFunc) (*model.CaseResult, error) {
	start := time.Now()

	result := &model.CaseResult{
		CaseID:         input.CaseID,
		CaseLabel:      input.Label,
		CreatedAt:      start.UTC(),
		ImageHash:      fingerprint.Bytes(input.Image),
		ReportHash:     fingerprint.Text(input.ReportText),
		OriginalReport: input.ReportText,
		ModelName:      p.cfg.Inference.Model,
		PromptVersion:  p.cfg.Prompts.Version,
	}
	if result.CaseID == "" {
		result.CaseID = uuid.NewString()
	}

	log := p.logger.With(zap.String("case_id", result.CaseID))
	emit := func(state State) {
		if onProgress != nil {
			onProgress(Progress{CaseID: result.CaseID, State: state, Elapsed: time.Since(start)})
		}
		log.Info("state transition", zap.String("state", string(state)))
	}

	if err := p.store.CreateCase(ctx, result); err != nil {
		// Not fatal here: the result lives in memory until the final write.
		log.Warn("initial case write failed", zap.Error(err))
	}
	p.recorder.Record(ctx, result.CaseID, "system", model.EventPipelineStart, map[string]string{
		"image_hash":  result.ImageHash,
		"report_hash": result.ReportHash,
	})

	// Step 1: pending -> claims_extracted
	if err := p.checkCancel(ctx); err != nil {
		return p.fail(ctx, result, StatePending, err)
	}
	if err := p.extractClaims(ctx, result); err != nil {
		return p.fail(ctx, result, StatePending, err)
	}
	emit(StateClaimsExtracted)

	// Step 2: claims_extracted -> findings_extracted. Runs over the image
	// alone so report assumptions cannot leak into the visual assessment.
	if err := p.checkCancel(ctx); err != nil {
		return p.fail(ctx, result, StateClaimsExtracted, err)
	}
	if err := p.extractFindings(ctx, input.Image, result); err != nil {
		return p.fail(ctx, result, StateClaimsExtracted, err)
	}
	emit(StateFindingsExtracted)

	// Step 3: findings_extracted -> aligned
	if err := p.checkCancel(ctx); err != nil {
		return p.fail(ctx, result, StateFindingsExtracted, err)
	}
	if err := p.alignClaims(ctx, result); err != nil {
		return p.fail(ctx, result, StateFindingsExtracted, err)
	}
	emit(StateAligned)

	// Step 4: aligned -> scored. Pure; total for well-formed alignments.
	result.Score, result.Severity, result.FlagCounts = p.scorer.Calculate(result.Alignments)
	result.Steps = append(result.Steps, model.StepStatus{Name: "scoring", Completed: true})
	p.recorder.Record(ctx, result.CaseID, "system", model.EventScoring, map[string]string{
		"score":    strconv.Itoa(result.Score),
		"severity": string(result.Severity),
	})
	emit(StateScored)

	// Step 5: scored -> rewritten
	if err := p.checkCancel(ctx); err != nil {
		return p.fail(ctx, result, StateScored, err)
	}
	if err := p.rewriteFlagged(ctx, result); err != nil {
		return p.fail(ctx, result, StateScored, err)
	}
	emit(StateRewritten)

	// Step 6: rewritten -> summarized. The two summary calls are
	// independent and run concurrently.
	if err := p.checkCancel(ctx); err != nil {
		return p.fail(ctx, result, StateRewritten, err)
	}
	if err := p.summarize(ctx, result); err != nil {
		return p.fail(ctx, result, StateRewritten, err)
	}
	emit(StateSummarized)

	result.Status = model.StatusCompleted
	p.recorder.Record(ctx, result.CaseID, "system", model.EventPipelineComplete, map[string]string{
		"score":    strconv.Itoa(result.Score),
		"severity": string(result.Severity),
	})

	if err := p.store.UpdateCase(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (p *Pipeline) checkCancel(ctx context.Context) error {
	return ctx.Err()
}

// fail freezes the result with an error terminal status, preserving every
// previously completed step's output. Status is partial when both
// extraction steps finished, failed otherwise.
func (p *Pipeline) fail(ctx context.Context, result *model.CaseResult, lastState State, cause error) (*model.CaseResult, error) {
	result.Status = model.StatusFailed
	if lastState == StateFindingsExtracted || lastState == StateAligned ||
		lastState == StateScored || lastState == StateRewritten {
		result.Status = model.StatusPartial
	}
	result.ErrorCode = errorCode(cause)
	result.ErrorDetail = cause.Error()

	p.logger.Error("pipeline failed",
		zap.String("case_id", result.CaseID),
		zap.String("last_state", string(lastState)),
		zap.String("code", result.ErrorCode),
		zap.Error(cause))

	// The run's context may already be cancelled; the error trail and the
	// frozen result still have to land in the store.
	ctx = context.WithoutCancel(ctx)
	p.recorder.Record(ctx, result.CaseID, "system", model.EventPipelineError, map[string]string{
		"last_state": string(lastState),
		"code":       result.ErrorCode,
		"detail":     result.ErrorDetail,
	})

	if err := p.store.UpdateCase(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// runStep executes one inference-backed step and folds its metadata into
// the result.
func (p *Pipeline) runStep(ctx context.Context, result *model.CaseResult, name string, vars map[string]string, sch *schema.Schema, image []byte, event model.EventType) (*StepResult, error) {
	res, err := p.steps.Run(ctx, name, vars, sch, image)
	if err != nil {
		result.Steps = append(result.Steps, model.StepStatus{Name: name, Error: err.Error()})
		return nil, err
	}
	result.Steps = append(result.Steps, model.StepStatus{
		Name:      name,
		Completed: true,
		Repaired:  res.Repaired,
		Duration:  res.Duration,
	})
	if res.Repaired {
		p.recorder.Record(ctx, result.CaseID, "system", model.EventSchemaRepair, map[string]string{"step": name})
	}
	p.recorder.Record(ctx, result.CaseID, "system", event, map[string]string{
		"duration": res.Duration.String(),
	})
	return res, nil
}

func (p *Pipeline) extractClaims(ctx context.Context, result *model.CaseResult) error {
	res, err := p.runStep(ctx, result, prompt.ClaimExtraction,
		map[string]string{"report_text": result.OriginalReport},
		schema.ClaimExtraction, nil, model.EventClaimExtraction)
	if err != nil {
		return err
	}

	var payload struct {
		Claims []model.Claim `json:"claims"`
	}
	if err := remarshal(res.Data, &payload); err != nil {
		return &schema.Error{Stage: prompt.ClaimExtraction, Detail: err.Error()}
	}

	reportLen := len(result.OriginalReport)
	for i := range payload.Claims {
		c := &payload.Claims[i]
		if !c.Span.Valid(reportLen) {
			// Defaulted rather than fatal: the claim text itself is intact.
			p.logger.Warn("claim span outside report bounds",
				zap.String("case_id", result.CaseID), zap.String("claim_id", c.ID))
			p.recorder.Record(ctx, result.CaseID, "system", model.EventClaimExtraction, map[string]string{
				"claim_id": c.ID,
				"issue":    "invalid_span",
			})
			c.Span = clampSpan(c.Span, reportLen)
		}
	}
	result.Claims = payload.Claims
	return nil
}

func (p *Pipeline) extractFindings(ctx context.Context, image []byte, result *model.CaseResult) error {
	res, err := p.runStep(ctx, result, prompt.ImageFindings, nil,
		schema.ImageFindings, image, model.EventImageFindings)
	if err != nil {
		return err
	}

	var payload struct {
		Findings     []model.Finding `json:"findings"`
		ImageQuality string          `json:"image_quality"`
	}
	if err := remarshal(res.Data, &payload); err != nil {
		return &schema.Error{Stage: prompt.ImageFindings, Detail: err.Error()}
	}
	result.Findings = payload.Findings
	result.ImageQuality = payload.ImageQuality
	return nil
}

func (p *Pipeline) alignClaims(ctx context.Context, result *model.CaseResult) error {
	claimsJSON, err := json.Marshal(result.Claims)
	if err != nil {
		return err
	}
	findingsJSON, err := json.Marshal(result.Findings)
	if err != nil {
		return err
	}

	res, err := p.runStep(ctx, result, prompt.Alignment, map[string]string{
		"claims_json":   string(claimsJSON),
		"findings_json": string(findingsJSON),
	}, schema.AlignmentStep, nil, model.EventAlignment)
	if err != nil {
		return err
	}

	var payload struct {
		Alignments []model.Alignment `json:"alignments"`
	}
	if err := remarshal(res.Data, &payload); err != nil {
		return &schema.Error{Stage: prompt.Alignment, Detail: err.Error()}
	}

	result.Alignments = p.reconcileAlignments(ctx, result, payload.Alignments)
	return nil
}

// reconcileAlignments enforces exactly one alignment per claim. The first
// alignment per claim wins; extras and alignments referencing unknown
// claims are discarded with an audit event; claims the model skipped get a
// not_assessable entry with confidence 0.
func (p *Pipeline) reconcileAlignments(ctx context.Context, result *model.CaseResult, raw []model.Alignment) []model.Alignment {
	byClaim := make(map[string]model.Alignment, len(result.Claims))
	known := make(map[string]string, len(result.Claims))
	for _, c := range result.Claims {
		known[c.ID] = c.Text
	}

	discarded := 0
	for _, a := range raw {
		text, ok := known[a.ClaimID]
		if !ok {
			discarded++
			derr := &DataConsistencyError{Detail: fmt.Sprintf("alignment references unknown claim %q", a.ClaimID)}
			p.logger.Warn("discarding alignment", zap.String("case_id", result.CaseID), zap.Error(derr))
			p.recorder.Record(ctx, result.CaseID, "system", model.EventAlignment, map[string]string{
				"issue":    "unknown_claim",
				"claim_id": a.ClaimID,
			})
			continue
		}
		if _, dup := byClaim[a.ClaimID]; dup {
			discarded++
			p.recorder.Record(ctx, result.CaseID, "system", model.EventAlignment, map[string]string{
				"issue":    "duplicate_alignment",
				"claim_id": a.ClaimID,
			})
			continue
		}
		a.ClaimText = text
		byClaim[a.ClaimID] = a
	}

	// One alignment per claim, in claim order.
	out := make([]model.Alignment, 0, len(result.Claims))
	for _, c := range result.Claims {
		if a, ok := byClaim[c.ID]; ok {
			out = append(out, a)
			continue
		}
		p.recorder.Record(ctx, result.CaseID, "system", model.EventAlignment, map[string]string{
			"issue":    "missing_alignment",
			"claim_id": c.ID,
		})
		out = append(out, model.Alignment{
			ClaimID:    c.ID,
			ClaimText:  c.Text,
			Label:      model.LabelNotAssessable,
			Confidence: 0,
			Rationale:  "No judgment returned for this claim.",
		})
	}

	if discarded > 0 {
		p.logger.Info("alignment reconciliation discarded entries",
			zap.String("case_id", result.CaseID), zap.Int("discarded", discarded))
	}
	return out
}

func (p *Pipeline) rewriteFlagged(ctx context.Context, result *model.CaseResult) error {
	var flagged []model.Alignment
	for _, a := range result.Alignments {
		if a.Label.Flagged() {
			flagged = append(flagged, a)
		}
	}

	// Nothing flagged: no inference call, the report stands as written.
	if len(flagged) == 0 {
		result.EditedReport = result.OriginalReport
		result.Steps = append(result.Steps, model.StepStatus{Name: prompt.Rewrite, Completed: true})
		return nil
	}

	flaggedJSON, err := json.Marshal(flagged)
	if err != nil {
		return err
	}

	res, err := p.runStep(ctx, result, prompt.Rewrite, map[string]string{
		"report_text":  result.OriginalReport,
		"flagged_json": string(flaggedJSON),
	}, schema.Rewrite, nil, model.EventRewrite)
	if err != nil {
		return err
	}

	var payload struct {
		Rewrites     []model.RewriteSuggestion `json:"rewrites"`
		EditedReport string                    `json:"edited_report"`
	}
	if err := remarshal(res.Data, &payload); err != nil {
		return &schema.Error{Stage: prompt.Rewrite, Detail: err.Error()}
	}

	// Flagged claims only: a suggestion for a supported or not_assessable
	// claim is discarded.
	flaggedIDs := make(map[string]bool, len(flagged))
	for _, a := range flagged {
		flaggedIDs[a.ClaimID] = true
	}
	kept := payload.Rewrites[:0]
	for _, rw := range payload.Rewrites {
		if !flaggedIDs[rw.ClaimID] {
			p.recorder.Record(ctx, result.CaseID, "system", model.EventRewrite, map[string]string{
				"issue":    "rewrite_for_unflagged_claim",
				"claim_id": rw.ClaimID,
			})
			continue
		}
		kept = append(kept, rw)
	}

	result.Rewrites = kept
	result.EditedReport = payload.EditedReport
	if result.EditedReport == "" {
		result.EditedReport = result.OriginalReport
	}
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, result *model.CaseResult) error {
	var flagged []model.Alignment
	for _, a := range result.Alignments {
		if a.Label != model.LabelSupported {
			flagged = append(flagged, a)
		}
	}
	flaggedJSON, err := json.Marshal(flagged)
	if err != nil {
		return err
	}
	countsJSON, err := json.Marshal(result.FlagCounts)
	if err != nil {
		return err
	}

	// The goroutines must not touch result; step outcomes are folded in
	// sequentially after the group settles.
	g, gctx := errgroup.WithContext(ctx)

	var clinicianRes, patientRes *StepResult
	var clinicianErr, patientErr error

	g.Go(func() error {
		clinicianRes, clinicianErr = p.steps.Run(gctx, prompt.ClinicianSummary, map[string]string{
			"overall_score":    strconv.Itoa(result.Score),
			"severity":         string(result.Severity),
			"flag_counts_json": string(countsJSON),
			"flagged_json":     string(flaggedJSON),
		}, schema.ClinicianSummary, nil)
		return clinicianErr
	})
	g.Go(func() error {
		patientRes, patientErr = p.steps.Run(gctx, prompt.PatientExplain, map[string]string{
			"report_text": result.EditedReport,
		}, schema.PatientExplain, nil)
		return patientErr
	})
	groupErr := g.Wait()

	p.foldStep(ctx, result, prompt.ClinicianSummary, clinicianRes, clinicianErr, model.EventClinicianSummary)
	p.foldStep(ctx, result, prompt.PatientExplain, patientRes, patientErr, model.EventPatientExplain)
	if groupErr != nil {
		return groupErr
	}

	var clinician model.ClinicianSummary
	if err := remarshal(clinicianRes.Data, &clinician); err != nil {
		return &schema.Error{Stage: prompt.ClinicianSummary, Detail: err.Error()}
	}
	var patient model.PatientExplanation
	if err := remarshal(patientRes.Data, &patient); err != nil {
		return &schema.Error{Stage: prompt.PatientExplain, Detail: err.Error()}
	}

	result.ClinicianSummary = &clinician
	result.PatientExplanation = &patient
	return nil
}

// foldStep records one summary step's status and events after its
// goroutine has finished.
func (p *Pipeline) foldStep(ctx context.Context, result *model.CaseResult, name string, res *StepResult, err error, event model.EventType) {
	if err != nil {
		result.Steps = append(result.Steps, model.StepStatus{Name: name, Error: err.Error()})
		return
	}
	if res == nil {
		// Sibling failure cancelled this step before it produced anything.
		result.Steps = append(result.Steps, model.StepStatus{Name: name, Error: context.Canceled.Error()})
		return
	}
	result.Steps = append(result.Steps, model.StepStatus{
		Name:      name,
		Completed: true,
		Repaired:  res.Repaired,
		Duration:  res.Duration,
	})
	if res.Repaired {
		p.recorder.Record(ctx, result.CaseID, "system", model.EventSchemaRepair, map[string]string{"step": name})
	}
	p.recorder.Record(ctx, result.CaseID, "system", event, map[string]string{
		"duration": res.Duration.String(),
	})
}

// remarshal decodes a validated object into its typed form. Label and
// status enums reject unknown values here, at the parse boundary.
func remarshal(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func clampSpan(s model.Span, reportLen int) model.Span {
	if s.Start < 0 {
		s.Start = 0
	}
	if s.End > reportLen {
		s.End = reportLen
	}
	if s.Start >= s.End {
		s.Start, s.End = 0, reportLen
	}
	return s
}
