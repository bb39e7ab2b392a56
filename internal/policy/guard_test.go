package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
)

type memRecorder struct {
	mu         sync.Mutex
	audit      []domain.AuditEntry
	violations []domain.Violation
	events     []domain.CycleEvent
	err        error
}

func (m *memRecorder) RecordAudit(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memRecorder) RecordViolation(_ context.Context, v domain.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.violations = append(m.violations, v)
	return nil
}

func (m *memRecorder) RecordCycleEvent(_ context.Context, e domain.CycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("op-%d", n)
	}
}

func newTestGuard(t *testing.T, rules *Rules, opts ...GuardOption) (*Guard, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	base := []GuardOption{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(seqIDs()),
	}
	return NewGuard(rules, rec, append(base, opts...)...), rec
}

func strictRules(t *testing.T) *Rules {
	t.Helper()
	r, err := LoadRules("testdata/rules.yaml")
	require.NoError(t, err)
	return r
}

func TestCheckOperationDefaults(t *testing.T) {
	g, rec := newTestGuard(t, DefaultRules())
	ctx := context.Background()

	tests := []struct {
		name    string
		op      domain.Operation
		target  string
		allowed bool
		level   int
		confirm bool
	}{
		{"read", domain.OpRead, "src/main.go", true, 0, false},
		{"create", domain.OpCreate, "src/new.go", true, 1, false},
		{"modify source", domain.OpModify, "src/main.go", true, 1, false},
		{"modify config", domain.OpModify, "deploy/values.yaml", true, 3, true},
		{"modify dotenv", domain.OpModify, ".env.local", true, 3, true},
		{"delete temp file", domain.OpDelete, "/tmp/file.txt", true, 2, true},
		{"delete package.json", domain.OpDelete, "package.json", false, 99, false},
		{"delete markdown", domain.OpDelete, "docs/README.md", false, 99, false},
		{"delete git dir", domain.OpDeleteDirectory, "repo/.git/", false, 99, false},
		{"delete build dir", domain.OpDeleteDirectory, "build", true, 2, true},
		{"execute plain", domain.OpExecute, "go test ./...", true, 1, false},
		{"execute reset", domain.OpExecute, "git reset --hard", true, 2, true},
		{"execute rm root", domain.OpExecute, "rm -rf /", false, 99, false},
		{"unknown op", domain.Operation("teleport"), "x", true, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.CheckOperation(ctx, tt.op, tt.target, nil)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.level, d.Level)
			assert.Equal(t, tt.confirm, d.RequiresConfirmation)
			assert.False(t, d.CycleRequired)
			assert.NotEmpty(t, d.OperationID)
		})
	}

	// one violation per forbidden case, recorded before CheckOperation returned
	require.Len(t, rec.violations, 4)
	v := rec.violations[0]
	assert.Equal(t, "Forbidden pattern: File matches forbidden pattern: package.json", v.Violation)
	assert.Equal(t, domain.ConsequenceBlocked, v.Consequence)
	assert.Equal(t, map[string]string{"operation": "delete", "target": "package.json"}, v.Context)
	assert.Equal(t, fixedNow, v.Timestamp)
}

func TestForbiddenMessages(t *testing.T) {
	g, rec := newTestGuard(t, DefaultRules())
	ctx := context.Background()

	d := g.CheckOperation(ctx, domain.OpDelete, "package.json", nil)
	assert.Equal(t, "Operation forbidden: File matches forbidden pattern: package.json", d.Message)

	d = g.CheckOperation(ctx, domain.OpDeleteDirectory, "node_modules", nil)
	assert.Equal(t, "Operation forbidden: Directory is forbidden: node_modules", d.Message)

	d = g.CheckOperation(ctx, domain.OpExecute, "sudo rm -rf /var", nil)
	assert.Equal(t, "Operation forbidden: Command is forbidden: rm -rf /", d.Message)

	require.Len(t, rec.violations, 3)
	assert.Equal(t, d.OperationID, rec.violations[2].OperationID)
}

func TestConfirmationTemplate(t *testing.T) {
	g, _ := newTestGuard(t, strictRules(t))
	ctx := context.Background()

	d := g.CheckOperation(ctx, domain.OpDelete, "build/out.bin", &domain.OperationContext{Reason: "stale output"})
	assert.Equal(t, "Delete build/out.bin? (stale output)", d.Message)

	d = g.CheckOperation(ctx, domain.OpDelete, "build/out.bin", nil)
	assert.Equal(t, "Delete build/out.bin? (No reason provided)", d.Message)

	d = g.CheckOperation(ctx, domain.OpExecute, "git push --force origin", nil)
	assert.Equal(t, "Run execute: git push --force origin", d.Message)

	d = g.CheckOperation(ctx, domain.OpModify, "app.toml", nil)
	assert.Equal(t, "⚠️ Operation: modify\nTarget: app.toml\nApprove? (yes/no)", d.Message)

	d = g.CheckOperation(ctx, domain.OpCreate, "main.go", nil)
	assert.Empty(t, d.Message)
}

func TestStrictModeCycle(t *testing.T) {
	m := metrics.New()
	g, rec := newTestGuard(t, strictRules(t), WithMetrics(m))
	ctx := context.Background()

	d := g.CheckOperation(ctx, domain.OpDelete, "build/out.bin", nil)
	require.True(t, d.Allowed)
	assert.True(t, d.CycleRequired)
	assert.Equal(t, "op-1", d.OperationID)

	state, ok := g.Cycle(d.OperationID)
	require.True(t, ok)
	assert.Equal(t, domain.CyclePending, state.Status)
	assert.Equal(t, 2, state.Level)
	assert.Len(t, state.RequiredSteps, 5)

	c := g.ValidateCycleCompliance(ctx, d.OperationID, domain.OpDelete, "build/out.bin")
	assert.False(t, c.Compliant)
	assert.Equal(t, "Operation requires completion of all cycle steps. Missing: BACKUP, CONFIRM, EXECUTE, VERIFY, CLEANUP", c.Message)

	for _, s := range []domain.CycleStep{domain.StepBackup, domain.StepConfirm, domain.StepExecute, domain.StepVerify} {
		require.NoError(t, g.RecordCycleStep(ctx, d.OperationID, s))
	}
	c = g.ValidateCycleCompliance(ctx, d.OperationID, domain.OpDelete, "build/out.bin")
	assert.False(t, c.Compliant)
	assert.Equal(t, []domain.CycleStep{domain.StepCleanup}, c.MissingSteps)

	require.NoError(t, g.RecordCycleStep(ctx, d.OperationID, domain.StepCleanup))
	c = g.ValidateCycleCompliance(ctx, d.OperationID, domain.OpDelete, "build/out.bin")
	assert.True(t, c.Compliant)

	require.NoError(t, g.CompleteCycle(ctx, d.OperationID))
	state, ok = g.Cycle(d.OperationID)
	require.True(t, ok)
	assert.Equal(t, domain.CycleCompleted, state.Status)

	require.Len(t, rec.events, 7)
	assert.Equal(t, domain.CycleEventInitialized, rec.events[0].Event)
	assert.Equal(t, 2, rec.events[0].Details["level"])
	assert.Equal(t, map[string]any{"step": "BACKUP"}, rec.events[1].Details)
	assert.Equal(t, domain.CycleEventCompleted, rec.events[6].Event)
	assert.Equal(t, []string{"BACKUP", "CONFIRM", "EXECUTE", "VERIFY", "CLEANUP"}, rec.events[6].Details["completedSteps"])

	n, err := testutil.GatherAndCount(m.Registry(), "turngov_active_cycles")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordCycleStepIdempotent(t *testing.T) {
	g, rec := newTestGuard(t, strictRules(t))
	ctx := context.Background()

	d := g.CheckOperation(ctx, domain.OpDelete, "tmp.txt", nil)
	require.NoError(t, g.RecordCycleStep(ctx, d.OperationID, domain.StepBackup))
	require.NoError(t, g.RecordCycleStep(ctx, d.OperationID, domain.StepBackup))
	// not required at level 2
	require.NoError(t, g.RecordCycleStep(ctx, d.OperationID, domain.StepEvaluate))

	state, _ := g.Cycle(d.OperationID)
	require.Len(t, state.CompletedSteps, 1)
	assert.Equal(t, domain.CompletedStep{ID: 1, Name: domain.StepBackup, Timestamp: fixedNow}, state.CompletedSteps[0])
	assert.Equal(t, domain.CycleInProgress, state.Status)
	assert.Len(t, rec.events, 2)
}

func TestCycleWithoutState(t *testing.T) {
	g, _ := newTestGuard(t, strictRules(t))
	ctx := context.Background()

	c := g.ValidateCycleCompliance(ctx, "op-missing", domain.OpModify, "app.yaml")
	assert.False(t, c.Compliant)
	assert.Equal(t, "No cycle state found for operation op-missing. Must initialize cycle first.", c.Message)
	assert.Len(t, c.RequiredSteps, 7)

	assert.ErrorIs(t, g.RecordCycleStep(ctx, "op-missing", domain.StepBackup), domain.ErrCycleNotFound)
	assert.ErrorIs(t, g.CompleteCycle(ctx, "op-missing"), domain.ErrCycleNotFound)
}

func TestComplianceWithoutStrictMode(t *testing.T) {
	g, _ := newTestGuard(t, DefaultRules())
	c := g.ValidateCycleCompliance(context.Background(), "op-x", domain.OpDelete, "a.txt")
	assert.True(t, c.Compliant)
}

func TestLogOperation(t *testing.T) {
	g, rec := newTestGuard(t, DefaultRules())
	ctx := context.Background()

	g.LogOperation(ctx, domain.OpModify, "config.json", "approved", "agent-1", WithRollbackReference("stash@{0}"))
	require.Len(t, rec.audit, 1)
	assert.Equal(t, domain.AuditEntry{
		Timestamp:         fixedNow,
		Operation:         domain.OpModify,
		Target:            "config.json",
		Status:            "approved",
		Actor:             "agent-1",
		Level:             3,
		RollbackReference: "stash@{0}",
	}, rec.audit[0])

	rules := DefaultRules()
	rules.Behaviors.AuditTrail.Enabled = false
	quiet, quietRec := newTestGuard(t, rules)
	quiet.LogOperation(ctx, domain.OpRead, "a", "ok", "agent-1")
	assert.Empty(t, quietRec.audit)
}

func TestSinkFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New()
	rec := &memRecorder{err: errors.New("disk full")}
	g := NewGuard(strictRules(t), rec, WithLogger(zap.New(core)), WithMetrics(m))
	ctx := context.Background()

	d := g.CheckOperation(ctx, domain.OpDelete, "package.json", nil)
	assert.False(t, d.Allowed)

	d = g.CheckOperation(ctx, domain.OpCreate, "a.go", nil)
	assert.True(t, d.Allowed)
	g.LogOperation(ctx, domain.OpCreate, "a.go", "done", "agent")

	assert.Equal(t, 1, logs.FilterMessage("failed to record violation").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to record cycle event").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to record audit entry").Len())
	n, err := testutil.GatherAndCount(m.Registry(), "turngov_sink_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOperationIDsAreUnique(t *testing.T) {
	g := NewGuard(DefaultRules(), nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		d := g.CheckOperation(context.Background(), domain.OpRead, "x", nil)
		assert.False(t, seen[d.OperationID])
		seen[d.OperationID] = true
	}
}

func TestConcurrentCycles(t *testing.T) {
	g := NewGuard(strictRules(t), &memRecorder{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := g.CheckOperation(ctx, domain.OpExecute, "go build", nil)
			ids[i] = d.OperationID
			_ = g.RecordCycleStep(ctx, d.OperationID, domain.StepExecute)
			_ = g.CompleteCycle(ctx, d.OperationID)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		state, ok := g.Cycle(id)
		require.True(t, ok)
		assert.Equal(t, domain.CycleCompleted, state.Status)
		assert.Len(t, state.CompletedSteps, 1)
	}
}
