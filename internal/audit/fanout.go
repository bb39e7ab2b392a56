package audit

import (
	"context"
	"errors"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Sink is the write side shared by every recorder.
type Sink interface {
	RecordAudit(ctx context.Context, e domain.AuditEntry) error
	RecordViolation(ctx context.Context, v domain.Violation) error
	RecordCycleEvent(ctx context.Context, e domain.CycleEvent) error
}

// Fanout forwards each record to every sink. A failing sink does not stop
// the others; the errors are joined.
type Fanout []Sink

func (f Fanout) RecordAudit(ctx context.Context, e domain.AuditEntry) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.RecordAudit(ctx, e))
	}
	return errors.Join(errs...)
}

func (f Fanout) RecordViolation(ctx context.Context, v domain.Violation) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.RecordViolation(ctx, v))
	}
	return errors.Join(errs...)
}

func (f Fanout) RecordCycleEvent(ctx context.Context, e domain.CycleEvent) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.RecordCycleEvent(ctx, e))
	}
	return errors.Join(errs...)
}
