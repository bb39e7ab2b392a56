package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WorkflowRepo handles persistence for WorkflowState records.
type WorkflowRepo struct{}

// CreateTx inserts a new workflow within an existing transaction.
func (r *WorkflowRepo) CreateTx(ctx context.Context, tx *sql.Tx, state domain.WorkflowState) error {
	completed, err := marshalPhases(state.CompletedPhases)
	if err != nil {
		return err
	}
	const q = `INSERT INTO workflows (task_id, current_phase, completed_phases_json, repository, issue_number, archived, state_version, started_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		state.TaskID,
		string(state.CurrentPhase),
		completed,
		state.Repository,
		state.IssueNumber,
		state.Archived,
		state.StateVersion,
		toMillis(state.StartTime),
		toMillis(state.LastUpdate),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewEngineError(domain.ErrDuplicateTask.Code, fmt.Sprintf("task %s already exists", state.TaskID))
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// UpdateStateTx updates a workflow within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected version.
func (r *WorkflowRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, state domain.WorkflowState) error {
	completed, err := marshalPhases(state.CompletedPhases)
	if err != nil {
		return err
	}
	const q = `UPDATE workflows SET
		current_phase = ?,
		completed_phases_json = ?,
		archived = ?,
		state_version = state_version + 1,
		updated_at_ms = ?
	WHERE task_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(state.CurrentPhase),
		completed,
		state.Archived,
		toMillis(state.LastUpdate),
		state.TaskID,
		state.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

const workflowColumns = `task_id, current_phase, completed_phases_json, repository, issue_number, archived, state_version, started_at_ms, updated_at_ms`

// GetByID retrieves a workflow by task ID. Transitions are not loaded.
func (r *WorkflowRepo) GetByID(ctx context.Context, q Queryer, taskID string) (*domain.WorkflowState, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE task_id = ?`, taskID)
	s, err := scanWorkflow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrFlowNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return s, nil
}

// List returns workflows ordered by start time. Archived workflows are
// included only when includeArchived is set.
func (r *WorkflowRepo) List(ctx context.Context, q Queryer, includeArchived bool) ([]domain.WorkflowState, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY started_at_ms ASC, task_id ASC`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowState
	for rows.Next() {
		s, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*domain.WorkflowState, error) {
	var s domain.WorkflowState
	var phase, completed string
	var started, updated int64
	if err := row.Scan(&s.TaskID, &phase, &completed, &s.Repository, &s.IssueNumber,
		&s.Archived, &s.StateVersion, &started, &updated); err != nil {
		return nil, err
	}
	s.CurrentPhase = domain.Phase(phase)
	s.StartTime = fromMillis(started)
	s.LastUpdate = fromMillis(updated)
	if err := json.Unmarshal([]byte(completed), &s.CompletedPhases); err != nil {
		return nil, fmt.Errorf("decode completed phases: %w", err)
	}
	if s.CompletedPhases == nil {
		s.CompletedPhases = []domain.Phase{}
	}
	return &s, nil
}

func marshalPhases(phases []domain.Phase) (string, error) {
	if phases == nil {
		phases = []domain.Phase{}
	}
	data, err := json.Marshal(phases)
	if err != nil {
		return "", fmt.Errorf("encode completed phases: %w", err)
	}
	return string(data), nil
}
