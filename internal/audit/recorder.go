// Package audit records typed lifecycle events per case. Recording is
// best-effort relative to the primary workflow: a failed write is logged
// and never aborts the pipeline.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/store"
)

// Recorder appends audit events to the store.
type Recorder struct {
	store  store.Store
	logger *zap.Logger
}

// NewRecorder creates a recorder. A nil store yields a recorder that only
// logs.
func NewRecorder(s store.Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: s, logger: logger}
}

// Record appends one event and returns its id. It never fails the
// surrounding operation.
func (r *Recorder) Record(ctx context.Context, caseID, actor string, eventType model.EventType, details map[string]string) string {
	event := &model.AuditEvent{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Type:      eventType,
		Details:   details,
	}

	if r.store != nil {
		if err := r.store.AppendEvent(ctx, event); err != nil {
			r.logger.Warn("audit event write failed",
				zap.String("case_id", caseID),
				zap.String("event_type", string(eventType)),
				zap.Error(err))
		}
	}

	r.logger.Debug("audit event",
		zap.String("case_id", caseID),
		zap.String("event_type", string(eventType)))
	return event.ID
}
