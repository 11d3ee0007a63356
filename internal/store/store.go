// Package store is the durable persistence collaborator for case results,
// batch results and audit events. The pipeline only calls create/update and
// never assumes a particular storage engine.
package store

import (
	"context"
	"fmt"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// Error reports a storage collaborator failure. Pipeline-internal state is
// not lost when one surfaces: results are held in memory until the final
// write.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable taxonomy code for persistence failures.
func (e *Error) Code() string { return "persistence_error" }

// Store defines the persistence interface. Implementations must serialize
// writes so concurrent cases never interleave partial updates.
type Store interface {
	CreateCase(ctx context.Context, result *model.CaseResult) error
	UpdateCase(ctx context.Context, result *model.CaseResult) error
	GetCase(ctx context.Context, caseID string) (*model.CaseResult, error)
	ListCases(ctx context.Context, limit int) ([]*model.CaseResult, error)

	CreateBatch(ctx context.Context, batch *model.BatchResult) error
	UpdateBatchProgress(ctx context.Context, batch *model.BatchResult) error
	GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error)

	AppendEvent(ctx context.Context, event *model.AuditEvent) error
	ListEvents(ctx context.Context, caseID string) ([]*model.AuditEvent, error)

	Close() error
}
