// Package store provides SQLite-backed persistence for workflow state and
// the append-only audit, violation, and cycle-event logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema. Times are unix milliseconds.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS workflows (
	task_id               TEXT PRIMARY KEY,
	current_phase         TEXT NOT NULL DEFAULT 'FETCH',
	completed_phases_json TEXT NOT NULL DEFAULT '[]',
	repository            TEXT NOT NULL DEFAULT '',
	issue_number          INTEGER NOT NULL DEFAULT 0,
	archived              INTEGER NOT NULL DEFAULT 0,
	state_version         INTEGER NOT NULL DEFAULT 1,
	started_at_ms         INTEGER NOT NULL DEFAULT 0,
	updated_at_ms         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS phase_transitions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL,
	seq_no        INTEGER NOT NULL,
	from_phase    TEXT NOT NULL,
	to_phase      TEXT NOT NULL,
	validated_by  TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	UNIQUE(task_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_transitions_task_seq ON phase_transitions(task_id, seq_no);

CREATE TABLE IF NOT EXISTS workflow_artifacts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	phase         TEXT NOT NULL,
	content_json  TEXT NOT NULL DEFAULT '{}',
	created_at_ms INTEGER NOT NULL,
	UNIQUE(task_id, name)
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	operation     TEXT NOT NULL,
	target        TEXT NOT NULL,
	status        TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	level         INTEGER NOT NULL DEFAULT 0,
	rollback_ref  TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at_ms);

CREATE TABLE IF NOT EXISTS violations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id  TEXT NOT NULL,
	violation     TEXT NOT NULL,
	context_json  TEXT NOT NULL DEFAULT '{}',
	consequence   TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_op ON violations(operation_id);

CREATE TABLE IF NOT EXISTS cycle_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id  TEXT NOT NULL,
	event         TEXT NOT NULL,
	details_json  TEXT NOT NULL DEFAULT '{}',
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_events_op ON cycle_events(operation_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
