package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rogers-F/turngov/internal/domain"
)

// TransitionRepo handles persistence for the per-task transition log.
type TransitionRepo struct{}

// AppendTx inserts a transition with the given sequence number within an
// existing transaction. Sequence numbers are unique per task; a duplicate
// means a concurrent transition won and returns ErrOptimisticLock.
func (r *TransitionRepo) AppendTx(ctx context.Context, tx *sql.Tx, taskID string, seqNo int, tr domain.Transition) error {
	const q = `INSERT INTO phase_transitions (task_id, seq_no, from_phase, to_phase, validated_by, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		taskID,
		seqNo,
		string(tr.From),
		string(tr.To),
		tr.ValidatedBy,
		toMillis(tr.Timestamp),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewEngineError(domain.ErrOptimisticLock.Code,
				fmt.Sprintf("task %s already recorded transition %d", taskID, seqNo))
		}
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ListByTask returns a task's transitions ordered by sequence number.
func (r *TransitionRepo) ListByTask(ctx context.Context, q Queryer, taskID string) ([]domain.Transition, error) {
	const query = `SELECT from_phase, to_phase, validated_by, created_at_ms
FROM phase_transitions
WHERE task_id = ?
ORDER BY seq_no ASC`

	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	out := []domain.Transition{}
	for rows.Next() {
		var tr domain.Transition
		var from, to string
		var created int64
		if err := rows.Scan(&from, &to, &tr.ValidatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = domain.Phase(from)
		tr.To = domain.Phase(to)
		tr.Timestamp = fromMillis(created)
		out = append(out, tr)
	}
	return out, rows.Err()
}
