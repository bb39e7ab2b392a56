package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/domain"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	r, err := NewFileRecorder(dir)
	require.NoError(t, err)
	ctx := context.Background()
	ts := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordAudit(ctx, domain.AuditEntry{Timestamp: ts, Operation: domain.OpDelete, Target: "a.txt", Status: "approved", Actor: "dev", Level: 2}))
	require.NoError(t, r.RecordViolation(ctx, domain.Violation{Timestamp: ts, OperationID: "op-1", Violation: "Forbidden pattern: x", Consequence: domain.ConsequenceBlocked}))
	require.NoError(t, r.RecordCycleEvent(ctx, domain.CycleEvent{Timestamp: ts, OperationID: "op-1", Event: domain.CycleEventInitialized, Details: map[string]any{"level": 2}}))
	require.NoError(t, r.Close())

	audit := readLines(t, filepath.Join(dir, AuditFile))
	require.Len(t, audit, 1)
	assert.Equal(t, "delete", audit[0]["operation"])
	assert.Equal(t, "2026-05-04T12:00:00Z", audit[0]["timestamp"])
	assert.NotEmpty(t, audit[0]["id"])

	violations := readLines(t, filepath.Join(dir, ViolationsFile))
	require.Len(t, violations, 1)
	assert.Equal(t, "OPERATION_BLOCKED", violations[0]["consequence"])

	cycles := readLines(t, filepath.Join(dir, CycleFile))
	require.Len(t, cycles, 1)
	assert.Equal(t, map[string]any{"level": float64(2)}, cycles[0]["details"])
}

func TestFileRecorderAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		r, err := NewFileRecorder(dir)
		require.NoError(t, err)
		require.NoError(t, r.RecordAudit(context.Background(), domain.AuditEntry{Target: fmt.Sprint(i)}))
		require.NoError(t, r.Close())
	}
	assert.Len(t, readLines(t, filepath.Join(dir, AuditFile)), 2)
}

func TestFileRecorderConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRecorder(dir)
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RecordViolation(context.Background(), domain.Violation{
				OperationID: fmt.Sprintf("op-%d", i),
				Violation:   string(make([]byte, 2048)),
				Consequence: domain.ConsequenceBlocked,
			})
		}(i)
	}
	wg.Wait()

	lines := readLines(t, filepath.Join(dir, ViolationsFile))
	assert.Len(t, lines, 50)
}

func TestFileRecorderClosed(t *testing.T) {
	r, err := NewFileRecorder(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Error(t, r.RecordAudit(context.Background(), domain.AuditEntry{}))
}

type failingSink struct{ calls int }

func (f *failingSink) RecordAudit(context.Context, domain.AuditEntry) error {
	f.calls++
	return errors.New("down")
}

func (f *failingSink) RecordViolation(context.Context, domain.Violation) error {
	f.calls++
	return errors.New("down")
}

func (f *failingSink) RecordCycleEvent(context.Context, domain.CycleEvent) error {
	f.calls++
	return errors.New("down")
}

func TestFanout(t *testing.T) {
	dir := t.TempDir()
	file, err := NewFileRecorder(dir)
	require.NoError(t, err)
	defer file.Close()
	bad := &failingSink{}

	fan := Fanout{bad, file}
	err = fan.RecordViolation(context.Background(), domain.Violation{OperationID: "op-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, readLines(t, filepath.Join(dir, ViolationsFile)), 1)

	assert.NoError(t, Fanout{file}.RecordAudit(context.Background(), domain.AuditEntry{}))
}
