package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// SQLiteStore persists results in a single SQLite file. Full case and batch
// payloads are stored as JSON blobs alongside the columns worth querying.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex // one logical write at a time
}

// NewSQLiteStore creates or opens the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &Error{Op: "open", Cause: err}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &Error{Op: "open", Cause: err}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, &Error{Op: "init", Cause: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		case_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		image_hash TEXT NOT NULL,
		report_hash TEXT NOT NULL,
		case_label TEXT,
		overall_score INTEGER NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT,
		result_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		done INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		result_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		event_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		actor TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_case ON audit_events(case_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateCase inserts a new case row.
func (s *SQLiteStore) CreateCase(ctx context.Context, result *model.CaseResult) error {
	return s.writeCase(ctx, result, `INSERT INTO cases
		(case_id, created_at, image_hash, report_hash, case_label, overall_score, severity, status, error_code, result_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
}

// UpdateCase replaces a case row after the terminal status is set.
func (s *SQLiteStore) UpdateCase(ctx context.Context, result *model.CaseResult) error {
	return s.writeCase(ctx, result, `INSERT OR REPLACE INTO cases
		(case_id, created_at, image_hash, report_hash, case_label, overall_score, severity, status, error_code, result_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
}

func (s *SQLiteStore) writeCase(ctx context.Context, result *model.CaseResult, query string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return &Error{Op: "encode case", Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, query,
		result.CaseID, result.CreatedAt, result.ImageHash, result.ReportHash,
		result.CaseLabel, result.Score, string(result.Severity), string(result.Status),
		result.ErrorCode, string(payload))
	if err != nil {
		return &Error{Op: "write case", Cause: err}
	}
	return nil
}

// GetCase loads one case by id.
func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.CaseResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT result_json FROM cases WHERE case_id=?", caseID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &Error{Op: "get case", Cause: fmt.Errorf("case %s not found", caseID)}
	}
	if err != nil {
		return nil, &Error{Op: "get case", Cause: err}
	}
	var result model.CaseResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, &Error{Op: "decode case", Cause: err}
	}
	return &result, nil
}

// ListCases returns the most recent cases, newest first.
func (s *SQLiteStore) ListCases(ctx context.Context, limit int) ([]*model.CaseResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT result_json FROM cases ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, &Error{Op: "list cases", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*model.CaseResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &Error{Op: "list cases", Cause: err}
		}
		var result model.CaseResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			s.logger.Warn("skipping undecodable case row", zap.Error(err))
			continue
		}
		out = append(out, &result)
	}
	return out, rows.Err()
}

// CreateBatch inserts a new batch row.
func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.BatchResult) error {
	return s.writeBatch(ctx, batch)
}

// UpdateBatchProgress replaces the batch row with current counters.
func (s *SQLiteStore) UpdateBatchProgress(ctx context.Context, batch *model.BatchResult) error {
	return s.writeBatch(ctx, batch)
}

func (s *SQLiteStore) writeBatch(ctx context.Context, batch *model.BatchResult) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return &Error{Op: "encode batch", Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO batches
		(batch_id, created_at, total, done, failed, result_json) VALUES (?,?,?,?,?,?)`,
		batch.BatchID, batch.CreatedAt, batch.Total, batch.Done, batch.Failed, string(payload))
	if err != nil {
		return &Error{Op: "write batch", Cause: err}
	}
	return nil
}

// GetBatch loads one batch by id.
func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT result_json FROM batches WHERE batch_id=?", batchID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &Error{Op: "get batch", Cause: fmt.Errorf("batch %s not found", batchID)}
	}
	if err != nil {
		return nil, &Error{Op: "get batch", Cause: err}
	}
	var batch model.BatchResult
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		return nil, &Error{Op: "decode batch", Cause: err}
	}
	return &batch, nil
}

// AppendEvent writes one audit event. Events are append-only: there is no
// update or delete path.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *model.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return &Error{Op: "encode event", Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_events (event_id, case_id, timestamp, actor, event_type, details_json) VALUES (?,?,?,?,?,?)",
		event.ID, event.CaseID, event.Timestamp, event.Actor, string(event.Type), string(details))
	if err != nil {
		return &Error{Op: "append event", Cause: err}
	}
	return nil
}

// ListEvents returns a case's audit trail in timestamp order.
func (s *SQLiteStore) ListEvents(ctx context.Context, caseID string) ([]*model.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event_id, case_id, timestamp, actor, event_type, details_json FROM audit_events WHERE case_id=? ORDER BY timestamp",
		caseID)
	if err != nil {
		return nil, &Error{Op: "list events", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var eventType, details string
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.Timestamp, &ev.Actor, &eventType, &details); err != nil {
			return nil, &Error{Op: "list events", Cause: err}
		}
		ev.Type = model.EventType(eventType)
		if details != "" {
			_ = json.Unmarshal([]byte(details), &ev.Details)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
