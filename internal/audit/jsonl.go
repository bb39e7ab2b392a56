// Package audit writes the policy guard's append-only logs as JSON Lines.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Log file names inside the audit directory.
const (
	AuditFile      = "audit.jsonl"
	ViolationsFile = "violations.jsonl"
	CycleFile      = "cycle-events.jsonl"
)

// jsonlFile appends one JSON document per line. Each record is marshalled
// first and written with a single Write call under the file's mutex, so
// concurrent appends never interleave.
type jsonlFile struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func openJSONL(path string) (*jsonlFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &jsonlFile{f: f, path: path}, nil
}

func (j *jsonlFile) append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", j.path, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("append %s: file closed", j.path)
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", j.path, err)
	}
	return nil
}

func (j *jsonlFile) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

type auditRecord struct {
	ID string `json:"id"`
	domain.AuditEntry
}

type violationRecord struct {
	ID string `json:"id"`
	domain.Violation
}

type cycleRecord struct {
	ID string `json:"id"`
	domain.CycleEvent
}

// FileRecorder writes audit entries, violations, and cycle events to three
// JSONL files under one directory.
type FileRecorder struct {
	Dir string

	audit      *jsonlFile
	violations *jsonlFile
	cycles     *jsonlFile
}

// NewFileRecorder creates dir if needed and opens the three logs for append.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	r := &FileRecorder{Dir: dir}
	var err error
	if r.audit, err = openJSONL(filepath.Join(dir, AuditFile)); err != nil {
		return nil, err
	}
	if r.violations, err = openJSONL(filepath.Join(dir, ViolationsFile)); err != nil {
		_ = r.audit.close()
		return nil, err
	}
	if r.cycles, err = openJSONL(filepath.Join(dir, CycleFile)); err != nil {
		_ = r.audit.close()
		_ = r.violations.close()
		return nil, err
	}
	return r, nil
}

func (r *FileRecorder) RecordAudit(_ context.Context, e domain.AuditEntry) error {
	return r.audit.append(auditRecord{ID: uuid.NewString(), AuditEntry: e})
}

func (r *FileRecorder) RecordViolation(_ context.Context, v domain.Violation) error {
	return r.violations.append(violationRecord{ID: uuid.NewString(), Violation: v})
}

func (r *FileRecorder) RecordCycleEvent(_ context.Context, e domain.CycleEvent) error {
	return r.cycles.append(cycleRecord{ID: uuid.NewString(), CycleEvent: e})
}

// Close closes all three files.
func (r *FileRecorder) Close() error {
	var first error
	for _, f := range []*jsonlFile{r.audit, r.violations, r.cycles} {
		if err := f.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
