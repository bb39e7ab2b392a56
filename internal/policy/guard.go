package policy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
)

// DefaultConfirmationTemplate is used when the rule set has none for an operation.
const DefaultConfirmationTemplate = "⚠️ Operation: {operation}\nTarget: {path}\nApprove? (yes/no)"

const noReason = "No reason provided"

// Recorder is the append-only sink for audit entries, violations, and
// cycle events. Each call must write one complete record.
type Recorder interface {
	RecordAudit(ctx context.Context, e domain.AuditEntry) error
	RecordViolation(ctx context.Context, v domain.Violation) error
	RecordCycleEvent(ctx context.Context, e domain.CycleEvent) error
}

type discardRecorder struct{}

func (discardRecorder) RecordAudit(context.Context, domain.AuditEntry) error      { return nil }
func (discardRecorder) RecordViolation(context.Context, domain.Violation) error   { return nil }
func (discardRecorder) RecordCycleEvent(context.Context, domain.CycleEvent) error { return nil }

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithCycleTracker replaces the default cycle tracker.
func WithCycleTracker(t *CycleTracker) GuardOption {
	return func(g *Guard) { g.cycles = t }
}

// WithIDGenerator overrides operation id generation.
func WithIDGenerator(fn func() string) GuardOption {
	return func(g *Guard) { g.newID = fn }
}

// Guard renders allow/deny/confirm decisions for agent operations and
// records every decision. It never executes the operations it approves.
type Guard struct {
	rules   *Rules
	rec     Recorder
	cycles  *CycleTracker
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// NewGuard creates a Guard over a loaded rule set. A nil recorder discards
// records and nil rules use DefaultRules. Rules built by hand must be valid;
// NewGuard panics otherwise.
func NewGuard(rules *Rules, rec Recorder, opts ...GuardOption) *Guard {
	if rec == nil {
		rec = discardRecorder{}
	}
	if rules == nil {
		rules = DefaultRules()
	} else if rules.compiled == nil {
		if err := rules.compile(); err != nil {
			panic(fmt.Sprintf("policy: %v", err))
		}
	}
	g := &Guard{
		rules:  rules,
		rec:    rec,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return "op-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cycles == nil {
		g.cycles = NewCycleTracker(DefaultCycleRetention, g.now)
	}
	return g
}

// Rules returns the rule set in force.
func (g *Guard) Rules() *Rules {
	return g.rules
}

// Cycles returns the cycle tracker.
func (g *Guard) Cycles() *CycleTracker {
	return g.cycles
}

// CheckOperation decides whether op on target may proceed.
func (g *Guard) CheckOperation(ctx context.Context, op domain.Operation, target string, opctx *domain.OperationContext) domain.PolicyDecision {
	id := g.newID()

	if reason := g.forbiddenReason(op, target); reason != "" {
		g.ReportViolation(ctx, id, "Forbidden pattern: "+reason, map[string]string{
			"operation": string(op),
			"target":    target,
		})
		g.metrics.PolicyDecision(string(op), "forbidden")
		g.logger.Info("operation forbidden",
			zap.String("operation_id", id),
			zap.String("operation", string(op)),
			zap.String("target", target),
			zap.String("reason", reason),
		)
		return domain.PolicyDecision{
			Allowed:     false,
			Level:       domain.LevelForbidden,
			Message:     "Operation forbidden: " + reason,
			OperationID: id,
		}
	}

	level := g.Level(op, target)
	decision := domain.PolicyDecision{
		Allowed:              true,
		Level:                level,
		RequiresConfirmation: level >= domain.LevelElevated,
		OperationID:          id,
	}
	if decision.RequiresConfirmation {
		decision.Message = g.confirmationMessage(op, target, opctx)
	}

	if g.rules.StrictCycles() {
		decision.CycleRequired = true
		g.initCycle(ctx, id, op, target, level)
	}

	outcome := "allowed"
	if decision.RequiresConfirmation {
		outcome = "confirm"
	}
	g.metrics.PolicyDecision(string(op), outcome)
	return decision
}

// Level returns the risk level of op on target, ignoring forbidden patterns.
func (g *Guard) Level(op domain.Operation, target string) int {
	switch op {
	case domain.OpRead:
		return domain.LevelRead
	case domain.OpCreate:
		return domain.LevelLow
	case domain.OpModify:
		if matchAny(g.rules.compiled.configFiles, target) {
			return domain.LevelConfig
		}
		return domain.LevelLow
	case domain.OpDelete, domain.OpDeleteDirectory:
		return domain.LevelElevated
	case domain.OpExecute:
		if containsAny(target, g.rules.Operations.Execute.Commands.RequireConfirmation) != "" {
			return domain.LevelElevated
		}
		return domain.LevelLow
	default:
		return domain.LevelLow
	}
}

func (g *Guard) forbiddenReason(op domain.Operation, target string) string {
	ops := g.rules.Operations
	switch op {
	case domain.OpDelete:
		for _, m := range g.rules.compiled.deleteForbidden {
			if m.Match(target) {
				return "File matches forbidden pattern: " + m.Pattern
			}
		}
	case domain.OpDeleteDirectory:
		name := path.Base(strings.TrimRight(target, "/"))
		for _, dir := range ops.Delete.Directories.Forbidden {
			if name == dir {
				return "Directory is forbidden: " + name
			}
		}
	case domain.OpExecute:
		if cmd := containsAny(target, ops.Execute.Commands.Forbidden); cmd != "" {
			return "Command is forbidden: " + cmd
		}
	}
	return ""
}

func (g *Guard) confirmationMessage(op domain.Operation, target string, opctx *domain.OperationContext) string {
	ops := g.rules.Operations
	var candidates []string
	switch op {
	case domain.OpDelete:
		candidates = []string{ops.Delete.Files.ConfirmationTemplate, ops.Delete.Directories.ConfirmationTemplate}
	case domain.OpDeleteDirectory:
		candidates = []string{ops.Delete.Directories.ConfirmationTemplate, ops.Delete.Files.ConfirmationTemplate}
	case domain.OpModify:
		candidates = []string{ops.Modify.Files.ConfirmationTemplate}
	case domain.OpCreate:
		candidates = []string{ops.Create.Files.ConfirmationTemplate}
	case domain.OpExecute:
		candidates = []string{ops.Execute.Commands.ConfirmationTemplate}
	}
	tpl := DefaultConfirmationTemplate
	for _, c := range candidates {
		if c != "" {
			tpl = c
			break
		}
	}

	reason := noReason
	if opctx != nil && opctx.Reason != "" {
		reason = opctx.Reason
	}
	return strings.NewReplacer(
		"{path}", target,
		"{reason}", reason,
		"{operation}", string(op),
	).Replace(tpl)
}

// LogOption configures one audit entry.
type LogOption func(*domain.AuditEntry)

// WithRollbackReference attaches a rollback handle to the audit entry.
func WithRollbackReference(ref string) LogOption {
	return func(e *domain.AuditEntry) { e.RollbackReference = ref }
}

// LogOperation appends an audit entry. Sink failures are logged and never
// reach the caller.
func (g *Guard) LogOperation(ctx context.Context, op domain.Operation, target, status, actor string, opts ...LogOption) {
	if !g.rules.Behaviors.AuditTrail.Enabled {
		return
	}
	entry := domain.AuditEntry{
		Timestamp: g.now().UTC(),
		Operation: op,
		Target:    target,
		Status:    status,
		Actor:     actor,
		Level:     g.Level(op, target),
	}
	for _, opt := range opts {
		opt(&entry)
	}
	if err := g.rec.RecordAudit(ctx, entry); err != nil {
		g.metrics.SinkError("audit")
		g.logger.Warn("failed to record audit entry",
			zap.String("operation", string(op)),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

// ReportViolation appends a violation record. Sink failures are logged.
func (g *Guard) ReportViolation(ctx context.Context, operationID, description string, vctx map[string]string) {
	v := domain.Violation{
		Timestamp:   g.now().UTC(),
		OperationID: operationID,
		Violation:   description,
		Context:     vctx,
		Consequence: domain.ConsequenceBlocked,
	}
	if err := g.rec.RecordViolation(ctx, v); err != nil {
		g.metrics.SinkError("violations")
		g.logger.Warn("failed to record violation",
			zap.String("operation_id", operationID),
			zap.Error(err),
		)
	}
}

// ValidateCycleCompliance reports the required steps of the operation
// that have not been recorded. Without strict cycle enforcement every
// operation is compliant.
func (g *Guard) ValidateCycleCompliance(_ context.Context, operationID string, op domain.Operation, target string) domain.CycleCompliance {
	if !g.rules.StrictCycles() {
		return domain.CycleCompliance{Compliant: true}
	}
	required := g.rules.RequiredSteps(g.Level(op, target))

	state, ok := g.cycles.Get(operationID)
	if !ok {
		return domain.CycleCompliance{
			Compliant:     false,
			Message:       "No cycle state found for operation " + operationID + ". Must initialize cycle first.",
			RequiredSteps: required,
		}
	}

	var missing []domain.CycleStep
	for _, step := range required {
		found := false
		for _, done := range state.CompletedSteps {
			if done.Name == step {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, step)
		}
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, s := range missing {
			names[i] = string(s)
		}
		return domain.CycleCompliance{
			Compliant:     false,
			Message:       "Operation requires completion of all cycle steps. Missing: " + strings.Join(names, ", "),
			RequiredSteps: required,
			MissingSteps:  missing,
		}
	}
	return domain.CycleCompliance{Compliant: true, RequiredSteps: required}
}

// RecordCycleStep marks step done for the operation's cycle. Steps that
// are not required, or already recorded, are ignored.
func (g *Guard) RecordCycleStep(ctx context.Context, operationID string, step domain.CycleStep) error {
	recorded, err := g.cycles.RecordStep(operationID, step, g.now().UTC())
	if err != nil {
		return err
	}
	if recorded {
		g.cycleEvent(ctx, operationID, domain.CycleEventStepCompleted, map[string]any{"step": string(step)})
	}
	return nil
}

// CompleteCycle marks the cycle completed. The state stays readable for
// the retention window and is then reclaimed.
func (g *Guard) CompleteCycle(ctx context.Context, operationID string) error {
	state, err := g.cycles.Complete(operationID)
	if err != nil {
		return err
	}
	names := make([]string, len(state.CompletedSteps))
	for i, s := range state.CompletedSteps {
		names[i] = string(s.Name)
	}
	g.cycleEvent(ctx, operationID, domain.CycleEventCompleted, map[string]any{"completedSteps": names})
	return nil
}

// Cycle returns the cycle state of an operation.
func (g *Guard) Cycle(operationID string) (domain.CycleState, bool) {
	return g.cycles.Get(operationID)
}

func (g *Guard) initCycle(ctx context.Context, id string, op domain.Operation, target string, level int) {
	required := g.rules.RequiredSteps(level)
	g.cycles.Init(domain.CycleState{
		OperationID:   id,
		Operation:     op,
		Target:        target,
		Level:         level,
		RequiredSteps: required,
	})
	names := make([]string, len(required))
	for i, s := range required {
		names[i] = string(s)
	}
	g.cycleEvent(ctx, id, domain.CycleEventInitialized, map[string]any{"level": level, "requiredSteps": names})
}

func (g *Guard) cycleEvent(ctx context.Context, operationID, event string, details map[string]any) {
	g.metrics.CycleEvent(event)
	g.metrics.SetActiveCycles(g.cycles.Len())
	err := g.rec.RecordCycleEvent(ctx, domain.CycleEvent{
		Timestamp:   g.now().UTC(),
		OperationID: operationID,
		Event:       event,
		Details:     details,
	})
	if err != nil {
		g.metrics.SinkError("cycle_events")
		g.logger.Warn("failed to record cycle event",
			zap.String("operation_id", operationID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func matchAny(matchers []Matcher, target string) bool {
	for _, m := range matchers {
		if m.Match(target) {
			return true
		}
	}
	return false
}

// containsAny returns the first entry of list that occurs in s.
func containsAny(s string, list []string) string {
	for _, v := range list {
		if v != "" && strings.Contains(s, v) {
			return v
		}
	}
	return ""
}
