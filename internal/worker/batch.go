package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carmmmm/RadiologyTrustLayer/internal/audit"
	"github.com/carmmmm/RadiologyTrustLayer/internal/dedupe"
	"github.com/carmmmm/RadiologyTrustLayer/internal/fingerprint"
	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/pipeline"
	"github.com/carmmmm/RadiologyTrustLayer/internal/store"
)

// Auditor runs the full pipeline for one case. Satisfied by
// *pipeline.Pipeline; narrowed to an interface so batch tests can script
// outcomes.
type Auditor interface {
	Run(ctx context.Context, input pipeline.CaseInput, onProgress pipeline.ProgressFunc) (*model.CaseResult, error)
}

// auditJob is one case submitted to the pool.
type auditJob struct {
	input     pipeline.CaseInput
	auditor   Auditor
	duplicate bool
	progress  pipeline.ProgressFunc
}

// auditOutcome is the result of one audit job.
type auditOutcome struct {
	caseID    string
	duplicate bool
	result    *model.CaseResult
	err       error
}

// GetError returns the job-level error, if any.
func (o *auditOutcome) GetError() error { return o.err }

// Execute runs the pipeline for one case. A panic-free contract is enough
// here: pipeline failures come back inside the CaseResult.
func (j *auditJob) Execute(ctx context.Context) Result {
	result, err := j.auditor.Run(ctx, j.input, j.progress)
	if result != nil && j.duplicate {
		result.Duplicate = true
	}
	return &auditOutcome{
		caseID:    j.input.CaseID,
		duplicate: j.duplicate,
		result:    result,
		err:       err,
	}
}

// BatchRunner applies the pipeline to every case in a collection under a
// bounded worker pool, producing an aggregate report. A single case's
// failure never blocks sibling cases.
type BatchRunner struct {
	auditor  Auditor
	store    store.Store
	recorder *audit.Recorder
	registry *dedupe.Registry
	workers  int
	logger   *zap.Logger
}

// NewBatchRunner creates a batch runner.
func NewBatchRunner(auditor Auditor, st store.Store, recorder *audit.Recorder, workers int, logger *zap.Logger) *BatchRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunner{
		auditor:  auditor,
		store:    st,
		recorder: recorder,
		registry: dedupe.NewRegistry(0),
		workers:  workers,
		logger:   logger,
	}
}

// CaseFailure is a case that failed before the pipeline could start, such
// as a malformed archive entry. It is accounted as a per-case failure.
type CaseFailure struct {
	CaseID string
	Err    error
}

// Run audits every case and returns the aggregate result. Pre-failed cases
// (malformed entries) count toward Failed without being processed.
// Guarantees at completion: Total == Done + Failed, and each case is
// processed exactly once.
func (b *BatchRunner) Run(ctx context.Context, cases []pipeline.CaseInput, preFailed []CaseFailure, onProgress pipeline.ProgressFunc) (*model.BatchResult, error) {
	batch := &model.BatchResult{
		BatchID:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Total:     len(cases) + len(preFailed),
		Cases:     make(map[string]model.CaseOutcome, len(cases)+len(preFailed)),
	}

	for _, f := range preFailed {
		caseID := f.CaseID
		if caseID == "" {
			caseID = uuid.NewString()
		}
		batch.Cases[caseID] = model.CaseOutcome{
			CaseID:    caseID,
			ErrorCode: "ingest_error",
			Error:     f.Err.Error(),
		}
		batch.Failed++
		b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchCaseFailed, map[string]string{
			"case_id": caseID,
			"code":    "ingest_error",
		})
	}

	if err := b.store.CreateBatch(ctx, batch); err != nil {
		b.logger.Warn("initial batch write failed", zap.Error(err))
	}
	b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchStart, map[string]string{
		"total": strconv.Itoa(batch.Total),
	})

	pool := NewPool(ctx, b.workers)
	pool.Start()

	// Drain results while submitting. The pool's channels hold only a few
	// jobs, so a batch larger than the buffers would wedge workers against
	// a full results channel if collection waited for submission to end.
	var outcomes []*auditOutcome
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for res := range pool.Results() {
			outcomes = append(outcomes, res.(*auditOutcome))
		}
	}()

	seen := make(map[string]bool, len(cases))
	for i := range cases {
		input := cases[i]
		if input.CaseID == "" {
			input.CaseID = uuid.NewString()
		}
		if seen[input.CaseID] {
			// Same id twice in one submission: process-once guarantee.
			b.logger.Warn("skipping repeated case id", zap.String("case_id", input.CaseID))
			batch.Total--
			continue
		}
		seen[input.CaseID] = true

		// Content-level duplicates are flagged, not rejected.
		fp := fingerprint.Case(fingerprint.Bytes(input.Image), fingerprint.Text(input.ReportText))
		duplicate := b.registry.Observe(fp)
		if duplicate {
			b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchDuplicate, map[string]string{
				"case_id": input.CaseID,
			})
		}

		pool.Submit(&auditJob{input: input, auditor: b.auditor, duplicate: duplicate, progress: onProgress})
	}

	pool.Wait()
	<-drained

	for _, outcome := range outcomes {
		b.fold(ctx, batch, outcome)
		if err := b.store.UpdateBatchProgress(ctx, batch); err != nil {
			b.logger.Warn("batch progress write failed", zap.Error(err))
		}
	}

	batch.Summary = summarize(batch)
	b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchComplete, map[string]string{
		"done":   strconv.Itoa(batch.Done),
		"failed": strconv.Itoa(batch.Failed),
	})

	if err := b.store.UpdateBatchProgress(ctx, batch); err != nil {
		return batch, err
	}
	return batch, nil
}

func (b *BatchRunner) fold(ctx context.Context, batch *model.BatchResult, outcome *auditOutcome) {
	entry := model.CaseOutcome{CaseID: outcome.caseID, Result: outcome.result}
	switch {
	case outcome.err != nil:
		entry.ErrorCode = "persistence_error"
		entry.Error = outcome.err.Error()
		batch.Failed++
		b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchCaseFailed, map[string]string{
			"case_id": outcome.caseID,
			"detail":  outcome.err.Error(),
		})
	case outcome.result.Status == model.StatusFailed:
		entry.ErrorCode = outcome.result.ErrorCode
		entry.Error = outcome.result.ErrorDetail
		batch.Failed++
		b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchCaseFailed, map[string]string{
			"case_id": outcome.caseID,
			"code":    outcome.result.ErrorCode,
		})
	default:
		batch.Done++
		b.recorder.Record(ctx, batch.BatchID, "system", model.EventBatchCaseDone, map[string]string{
			"case_id": outcome.caseID,
			"status":  string(outcome.result.Status),
		})
	}
	batch.Cases[outcome.caseID] = entry
}

func summarize(batch *model.BatchResult) model.BatchSummary {
	summary := model.BatchSummary{
		SeverityCounts: map[model.Severity]int{},
	}
	scored := 0
	needingReview := 0
	var totalScore int
	for _, outcome := range batch.Cases {
		if outcome.Result == nil || outcome.Result.Status == model.StatusFailed {
			continue
		}
		// Partial cases that failed before scoring carry no severity and
		// no meaningful score; folding them in would drag the average down.
		if outcome.Result.Severity == "" {
			continue
		}
		scored++
		totalScore += outcome.Result.Score
		summary.SeverityCounts[outcome.Result.Severity]++
		if outcome.Result.Severity != model.SeverityLow {
			needingReview++
		}
	}
	if scored > 0 {
		summary.AvgScore = float64(totalScore) / float64(scored)
		summary.PctNeedingReview = float64(needingReview) / float64(scored) * 100
	}
	return summary
}
