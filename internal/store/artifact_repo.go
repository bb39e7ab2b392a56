package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rogers-F/turngov/internal/domain"
)

// ArtifactRepo handles persistence for named workflow artifacts.
type ArtifactRepo struct{}

// Save inserts an artifact, replacing any earlier artifact with the same
// name for the task.
func (r *ArtifactRepo) Save(ctx context.Context, db *sql.DB, a domain.Artifact) error {
	const q = `INSERT INTO workflow_artifacts (task_id, name, phase, content_json, created_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(task_id, name) DO UPDATE SET
	phase = excluded.phase,
	content_json = excluded.content_json,
	created_at_ms = excluded.created_at_ms`
	_, err := db.ExecContext(ctx, q,
		a.TaskID,
		a.Name,
		string(a.Phase),
		a.ContentJSON,
		toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// ListByTask returns the artifacts of a task ordered by name.
func (r *ArtifactRepo) ListByTask(ctx context.Context, q Queryer, taskID string) ([]domain.Artifact, error) {
	const query = `SELECT task_id, name, phase, content_json, created_at_ms
FROM workflow_artifacts
WHERE task_id = ?
ORDER BY name ASC`

	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var phase string
		var created int64
		if err := rows.Scan(&a.TaskID, &a.Name, &phase, &a.ContentJSON, &created); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Phase = domain.Phase(phase)
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
