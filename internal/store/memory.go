package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// MemoryStore is an in-process Store used when no database path is
// configured, and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	cases   map[string]*model.CaseResult
	batches map[string]*model.BatchResult
	events  []*model.AuditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:   make(map[string]*model.CaseResult),
		batches: make(map[string]*model.BatchResult),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// CreateCase stores a copy of the case result.
func (s *MemoryStore) CreateCase(ctx context.Context, result *model.CaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *result
	s.cases[result.CaseID] = &clone
	return nil
}

// UpdateCase replaces the stored case result.
func (s *MemoryStore) UpdateCase(ctx context.Context, result *model.CaseResult) error {
	return s.CreateCase(ctx, result)
}

// GetCase loads one case by id.
func (s *MemoryStore) GetCase(ctx context.Context, caseID string) (*model.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.cases[caseID]
	if !ok {
		return nil, &Error{Op: "get case", Cause: fmt.Errorf("case %s not found", caseID)}
	}
	clone := *result
	return &clone, nil
}

// ListCases returns stored cases, newest first.
func (s *MemoryStore) ListCases(ctx context.Context, limit int) ([]*model.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CaseResult, 0, len(s.cases))
	for _, c := range s.cases {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateBatch stores a copy of the batch result.
func (s *MemoryStore) CreateBatch(ctx context.Context, batch *model.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *batch
	s.batches[batch.BatchID] = &clone
	return nil
}

// UpdateBatchProgress replaces the stored batch result.
func (s *MemoryStore) UpdateBatchProgress(ctx context.Context, batch *model.BatchResult) error {
	return s.CreateBatch(ctx, batch)
}

// GetBatch loads one batch by id.
func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, &Error{Op: "get batch", Cause: fmt.Errorf("batch %s not found", batchID)}
	}
	clone := *batch
	return &clone, nil
}

// AppendEvent appends one audit event.
func (s *MemoryStore) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *event
	s.events = append(s.events, &clone)
	return nil
}

// ListEvents returns a case's events in timestamp order.
func (s *MemoryStore) ListEvents(ctx context.Context, caseID string) ([]*model.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuditEvent
	for _, ev := range s.events {
		if ev.CaseID == caseID {
			clone := *ev
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
