package store

import (
	"context"
	"database/sql"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Recorder writes policy records into the SQLite log tables. Each record
// is a single INSERT, so concurrent writers never interleave partial rows.
type Recorder struct {
	DB         *sql.DB
	Audit      *AuditRepo
	Violations *ViolationRepo
	Cycles     *CycleEventRepo
}

// NewRecorder creates a Recorder over db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		DB:         db,
		Audit:      &AuditRepo{},
		Violations: &ViolationRepo{},
		Cycles:     &CycleEventRepo{},
	}
}

func (r *Recorder) RecordAudit(ctx context.Context, e domain.AuditEntry) error {
	return r.Audit.Record(ctx, r.DB, e)
}

func (r *Recorder) RecordViolation(ctx context.Context, v domain.Violation) error {
	return r.Violations.Record(ctx, r.DB, v)
}

func (r *Recorder) RecordCycleEvent(ctx context.Context, e domain.CycleEvent) error {
	return r.Cycles.Record(ctx, r.DB, e)
}
