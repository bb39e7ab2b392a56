package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
	"github.com/Rogers-F/turngov/internal/store"
	"github.com/Rogers-F/turngov/internal/tracker"
)

// ValidatedByEngine is recorded on transitions when the caller names no validator.
const ValidatedByEngine = "WorkflowManager"

// Engine persists per-task workflow state. Each transition is applied in a
// single transaction with optimistic locking.
type Engine struct {
	DB           *sql.DB
	Workflows    *store.WorkflowRepo
	Transitions  *store.TransitionRepo
	ArtifactRepo *store.ArtifactRepo
	GateRegistry *PhaseGateRegistry

	Tracker        LabelTracker
	TrackerTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// NewEngine creates an engine with all dependencies.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		DB:             db,
		Workflows:      &store.WorkflowRepo{},
		Transitions:    &store.TransitionRepo{},
		ArtifactRepo:   &store.ArtifactRepo{},
		GateRegistry:   NewPhaseGateRegistry(DefaultMinCoverage),
		TrackerTimeout: DefaultTrackerTimeout,
		Logger:         zap.NewNop(),
		Now:            time.Now,
	}
}

// InitTask creates a workflow at FETCH. repository may name a tracker
// issue as "owner/repo#123"; its label is set best-effort.
func (e *Engine) InitTask(ctx context.Context, taskID, repository string) (*domain.WorkflowState, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.ErrInvalidTaskID
	}

	now := e.Now().UTC()
	state := domain.WorkflowState{
		TaskID:          taskID,
		CurrentPhase:    domain.PhaseFetch,
		CompletedPhases: []domain.Phase{},
		Transitions:     []domain.Transition{},
		Repository:      repository,
		StateVersion:    1,
		StartTime:       now,
		LastUpdate:      now,
	}
	if ref, ok := tracker.ParseIssueRef(repository); ok {
		state.IssueNumber = ref.Number
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.Workflows.CreateTx(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	e.Logger.Info("task initialized", zap.String("task_id", taskID), zap.String("repository", repository))
	e.syncTracker(ctx, &state, "")
	return &state, nil
}

// Transition moves a task to the phase after its current one. The move
// must be the immediate successor and the current phase's gate must allow
// the exit.
func (e *Engine) Transition(ctx context.Context, taskID string, to domain.Phase, validatedBy string) (*domain.WorkflowState, error) {
	state, err := e.Workflows.GetByID(ctx, e.DB, taskID)
	if err != nil {
		return nil, err
	}
	if state.Archived {
		return nil, domain.NewEngineError(domain.ErrFlowArchived.Code, fmt.Sprintf("task %s is archived", taskID))
	}

	from := state.CurrentPhase
	if check := ValidateTransition(from, to); !check.Valid {
		code := domain.ErrInvalidTransition.Code
		if from.Terminal() {
			code = domain.ErrTerminalPhase.Code
		}
		msg := check.Error
		if next, ok := from.Next(); ok {
			msg += ". Valid transitions: " + string(next)
		}
		return nil, domain.NewEngineError(code, msg)
	}

	stored, err := e.ArtifactRepo.ListByTask(ctx, e.DB, taskID)
	if err != nil {
		return nil, err
	}
	artifacts, err := DecodeArtifacts(stored)
	if err != nil {
		return nil, err
	}
	gate, err := e.GateRegistry.Get(from)
	if err != nil {
		return nil, err
	}
	decision, err := gate.Evaluate(ctx, *state, artifacts)
	if err != nil {
		return nil, fmt.Errorf("evaluate gate: %w", err)
	}
	if !decision.Allow {
		return nil, domain.NewEngineError(
			domain.ErrPhaseGateFailed.Code,
			fmt.Sprintf("gate %s blocked %s → %s: %s", gate.Name(), from, to, strings.Join(decision.Blockers, "; ")),
		)
	}

	if validatedBy == "" {
		validatedBy = ValidatedByEngine
	}
	now := e.Now().UTC()
	tr := domain.Transition{From: from, To: to, Timestamp: now, ValidatedBy: validatedBy}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// The target's index is unique per task on a linear chain.
	if err := e.Transitions.AppendTx(ctx, tx, taskID, to.Index(), tr); err != nil {
		return nil, err
	}

	updated := *state
	updated.CompletedPhases = append(append([]domain.Phase{}, state.CompletedPhases...), from)
	updated.CurrentPhase = to
	updated.LastUpdate = now
	if err := e.Workflows.UpdateStateTx(ctx, tx, updated); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	updated.StateVersion++

	e.Metrics.PhaseTransition(string(to))
	e.Logger.Info("phase transition",
		zap.String("task_id", taskID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("validated_by", validatedBy),
	)
	e.syncTracker(ctx, &updated, from)

	transitions, err := e.Transitions.ListByTask(ctx, e.DB, taskID)
	if err != nil {
		return nil, err
	}
	updated.Transitions = transitions
	return &updated, nil
}

// GetState returns a task's state with its transition log.
func (e *Engine) GetState(ctx context.Context, taskID string) (*domain.WorkflowState, error) {
	state, err := e.Workflows.GetByID(ctx, e.DB, taskID)
	if err != nil {
		return nil, err
	}
	state.Transitions, err = e.Transitions.ListByTask(ctx, e.DB, taskID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// List returns the tracked tasks, archived ones only when asked.
func (e *Engine) List(ctx context.Context, includeArchived bool) ([]domain.WorkflowState, error) {
	return e.Workflows.List(ctx, e.DB, includeArchived)
}

// Archive retires a task. Tasks are never deleted. Archiving twice is a no-op.
func (e *Engine) Archive(ctx context.Context, taskID string) error {
	state, err := e.Workflows.GetByID(ctx, e.DB, taskID)
	if err != nil {
		return err
	}
	if state.Archived {
		return nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	state.Archived = true
	state.LastUpdate = e.Now().UTC()
	if err := e.Workflows.UpdateStateTx(ctx, tx, *state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.Logger.Info("task archived", zap.String("task_id", taskID))
	return nil
}

// AddArtifact stores content under name for the task's current phase,
// replacing an earlier artifact of the same name.
func (e *Engine) AddArtifact(ctx context.Context, taskID, name string, content any) error {
	state, err := e.Workflows.GetByID(ctx, e.DB, taskID)
	if err != nil {
		return err
	}
	if state.Archived {
		return domain.NewEngineError(domain.ErrFlowArchived.Code, fmt.Sprintf("task %s is archived", taskID))
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode artifact %q: %w", name, err)
	}
	return e.ArtifactRepo.Save(ctx, e.DB, domain.Artifact{
		TaskID:      taskID,
		Name:        name,
		Phase:       state.CurrentPhase,
		ContentJSON: string(data),
		CreatedAt:   e.Now().UTC(),
	})
}

// Artifacts returns the artifacts stored for a task.
func (e *Engine) Artifacts(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	if _, err := e.Workflows.GetByID(ctx, e.DB, taskID); err != nil {
		return nil, err
	}
	return e.ArtifactRepo.ListByTask(ctx, e.DB, taskID)
}

// Status renders a short plain-text summary of a task.
func (e *Engine) Status(ctx context.Context, taskID string) (string, error) {
	state, err := e.GetState(ctx, taskID)
	if err != nil {
		return "", err
	}
	artifacts, err := e.ArtifactRepo.ListByTask(ctx, e.DB, taskID)
	if err != nil {
		return "", err
	}

	completed := make([]string, len(state.CompletedPhases))
	for i, p := range state.CompletedPhases {
		completed[i] = string(p)
	}
	lines := []string{
		"Task: " + state.TaskID,
		"Current Phase: " + string(state.CurrentPhase),
		"Completed Phases: " + strings.Join(completed, " → "),
		fmt.Sprintf("Artifacts: %d", len(artifacts)),
		fmt.Sprintf("Transitions: %d", len(state.Transitions)),
	}
	if state.Repository != "" {
		lines = append(lines, "Repository: "+state.Repository)
	}
	if state.IssueNumber != 0 {
		lines = append(lines, fmt.Sprintf("Issue: #%d", state.IssueNumber))
	}
	if state.Archived {
		lines = append(lines, "Archived: yes")
	}
	return strings.Join(lines, "\n"), nil
}

// syncTracker mirrors the current phase onto the task's issue. Failures are
// logged and never undo the committed state.
func (e *Engine) syncTracker(ctx context.Context, state *domain.WorkflowState, oldPhase domain.Phase) {
	if e.Tracker == nil || state.IssueNumber == 0 {
		return
	}
	ref, ok := tracker.ParseIssueRef(state.Repository)
	if !ok {
		return
	}
	timeout := e.TrackerTimeout
	if timeout <= 0 {
		timeout = DefaultTrackerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := syncLabels(ctx, e.Tracker, ref, oldPhase, state.CurrentPhase); err != nil {
		e.Metrics.SinkError("tracker")
		e.Logger.Warn("failed to update tracker labels",
			zap.String("task_id", state.TaskID),
			zap.String("issue", ref.String()),
			zap.Error(err),
		)
	}
}
