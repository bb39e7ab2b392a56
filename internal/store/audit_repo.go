package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Rogers-F/turngov/internal/domain"
)

// AuditRepo handles persistence for AuditEntry records.
type AuditRepo struct{}

// Record inserts an audit entry.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, e domain.AuditEntry) error {
	const q = `INSERT INTO audit_entries (operation, target, status, actor, level, rollback_ref, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		string(e.Operation),
		e.Target,
		e.Status,
		e.Actor,
		e.Level,
		e.RollbackReference,
		toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// List returns up to limit audit entries, most recent last. A limit of
// zero or less returns everything.
func (r *AuditRepo) List(ctx context.Context, q Queryer, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT operation, target, status, actor, level, rollback_ref, created_at_ms FROM (
	SELECT * FROM audit_entries ORDER BY id DESC` + limitClause(limit) + `
) ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var op string
		var created int64
		if err := rows.Scan(&op, &e.Target, &e.Status, &e.Actor, &e.Level, &e.RollbackReference, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Operation = domain.Operation(op)
		e.Timestamp = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ViolationRepo handles persistence for Violation records.
type ViolationRepo struct{}

// Record inserts a violation.
func (r *ViolationRepo) Record(ctx context.Context, db *sql.DB, v domain.Violation) error {
	ctxJSON, err := json.Marshal(v.Context)
	if err != nil {
		return fmt.Errorf("encode violation context: %w", err)
	}
	const q = `INSERT INTO violations (operation_id, violation, context_json, consequence, created_at_ms)
VALUES (?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		v.OperationID,
		v.Violation,
		string(ctxJSON),
		v.Consequence,
		toMillis(v.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

// ListByOperation returns the violations recorded for one operation id.
func (r *ViolationRepo) ListByOperation(ctx context.Context, q Queryer, operationID string) ([]domain.Violation, error) {
	const query = `SELECT operation_id, violation, context_json, consequence, created_at_ms
FROM violations
WHERE operation_id = ?
ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []domain.Violation
	for rows.Next() {
		var v domain.Violation
		var ctxJSON string
		var created int64
		if err := rows.Scan(&v.OperationID, &v.Violation, &ctxJSON, &v.Consequence, &created); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		if err := json.Unmarshal([]byte(ctxJSON), &v.Context); err != nil {
			return nil, fmt.Errorf("decode violation context: %w", err)
		}
		v.Timestamp = fromMillis(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CycleEventRepo handles persistence for CycleEvent records.
type CycleEventRepo struct{}

// Record inserts a cycle event.
func (r *CycleEventRepo) Record(ctx context.Context, db *sql.DB, e domain.CycleEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode cycle event details: %w", err)
	}
	const q = `INSERT INTO cycle_events (operation_id, event, details_json, created_at_ms)
VALUES (?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		e.OperationID,
		e.Event,
		string(details),
		toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("record cycle event: %w", err)
	}
	return nil
}

// ListByOperation returns the cycle events of one operation in order.
func (r *CycleEventRepo) ListByOperation(ctx context.Context, q Queryer, operationID string) ([]domain.CycleEvent, error) {
	const query = `SELECT operation_id, event, details_json, created_at_ms
FROM cycle_events
WHERE operation_id = ?
ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("list cycle events: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleEvent
	for rows.Next() {
		var e domain.CycleEvent
		var details string
		var created int64
		if err := rows.Scan(&e.OperationID, &e.Event, &details, &created); err != nil {
			return nil, fmt.Errorf("scan cycle event: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode cycle event details: %w", err)
		}
		e.Timestamp = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
