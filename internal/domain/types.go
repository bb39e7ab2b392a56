// Package domain defines the core types shared by the guard pipeline, the
// phase state machine, and the operation policy guard.
package domain

import (
	"strings"
	"time"
)

// Transition records one validated phase change for a task.
type Transition struct {
	From        Phase     `json:"from"`
	To          Phase     `json:"to"`
	Timestamp   time.Time `json:"timestamp"`
	ValidatedBy string    `json:"validatedBy,omitempty"`
}

// WorkflowState is the per-task record of progress through the phases.
type WorkflowState struct {
	TaskID          string       `json:"taskId"`
	CurrentPhase    Phase        `json:"currentPhase"`
	CompletedPhases []Phase      `json:"completedPhases"`
	Transitions     []Transition `json:"transitions"`
	Repository      string       `json:"repository,omitempty"`
	IssueNumber     int          `json:"issueNumber,omitempty"`
	Archived        bool         `json:"archived"`
	StateVersion    int64        `json:"stateVersion"`
	StartTime       time.Time    `json:"startTime"`
	LastUpdate      time.Time    `json:"lastUpdate"`
}

// Artifact is a named piece of phase output attached to a task, such as an
// RFC or a test-result summary.
type Artifact struct {
	TaskID      string    `json:"taskId"`
	Name        string    `json:"name"`
	Phase       Phase     `json:"phase"`
	ContentJSON string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GuardFailure describes one failing guard in exhaustive validation mode.
type GuardFailure struct {
	Guard    string `json:"guard"`
	Message  string `json:"message"`
	ExitCode int    `json:"exitCode"`
}

// ValidationResult aggregates the outcome of running the guard pipeline
// over one turn document.
type ValidationResult struct {
	Valid         bool           `json:"valid"`
	Errors        []string       `json:"errors"`
	Warnings      []string       `json:"warnings"`
	Phase         Phase          `json:"phase,omitempty"`
	GuardFailures []GuardFailure `json:"guardFailures,omitempty"`
}

// Operation is the kind of side effect an agent wants to perform.
type Operation string

const (
	OpRead            Operation = "read"
	OpCreate          Operation = "create"
	OpModify          Operation = "modify"
	OpDelete          Operation = "delete"
	OpDeleteDirectory Operation = "delete_directory"
	OpExecute         Operation = "execute"
)

// Risk levels. LevelForbidden always means the operation is denied.
const (
	LevelRead      = 0
	LevelLow       = 1
	LevelElevated  = 2
	LevelConfig    = 3
	LevelForbidden = 99
)

// OperationContext carries optional caller-supplied detail about a request.
type OperationContext struct {
	Reason string            `json:"reason,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// OperationRequest is a proposed operation submitted to the policy guard.
type OperationRequest struct {
	Operation Operation         `json:"operation"`
	Target    string            `json:"target"`
	Context   *OperationContext `json:"context,omitempty"`
}

// PolicyDecision is the verdict for one OperationRequest.
type PolicyDecision struct {
	Allowed              bool   `json:"allowed"`
	Level                int    `json:"level"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Message              string `json:"message,omitempty"`
	CycleRequired        bool   `json:"cycleRequired,omitempty"`
	OperationID          string `json:"operationId,omitempty"`
}

// CycleStep names one step of the compliance cycle.
type CycleStep string

const (
	StepBackup   CycleStep = "BACKUP"
	StepConfirm  CycleStep = "CONFIRM"
	StepExecute  CycleStep = "EXECUTE"
	StepVerify   CycleStep = "VERIFY"
	StepEvaluate CycleStep = "EVALUATE"
	StepUpdate   CycleStep = "UPDATE"
	StepCleanup  CycleStep = "CLEANUP"
)

var cycleSteps = []CycleStep{
	StepBackup,
	StepConfirm,
	StepExecute,
	StepVerify,
	StepEvaluate,
	StepUpdate,
	StepCleanup,
}

// CycleSteps returns the full seven-step vocabulary in order.
func CycleSteps() []CycleStep {
	out := make([]CycleStep, len(cycleSteps))
	copy(out, cycleSteps)
	return out
}

// Number returns the 1-based position of s in the cycle, or 0 if unknown.
func (s CycleStep) Number() int {
	for i, step := range cycleSteps {
		if step == s {
			return i + 1
		}
	}
	return 0
}

// ParseCycleStep returns the step named s, matched case-insensitively.
func ParseCycleStep(s string) (CycleStep, error) {
	for _, step := range cycleSteps {
		if strings.EqualFold(string(step), s) {
			return step, nil
		}
	}
	return "", NewEngineError(ErrUnknownCycleStep.Code, "unknown cycle step: "+s)
}

// CycleStatus is the lifecycle state of a compliance cycle.
type CycleStatus string

const (
	CyclePending    CycleStatus = "pending"
	CycleInProgress CycleStatus = "in_progress"
	CycleCompleted  CycleStatus = "completed"
	CycleFailed     CycleStatus = "failed"
)

// CompletedStep is a recorded cycle step.
type CompletedStep struct {
	ID        int       `json:"id"`
	Name      CycleStep `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// CycleState tracks the compliance cycle of one gated operation.
type CycleState struct {
	OperationID    string          `json:"operationId"`
	Operation      Operation       `json:"operation"`
	Target         string          `json:"target"`
	Level          int             `json:"level"`
	RequiredSteps  []CycleStep     `json:"requiredSteps"`
	CompletedSteps []CompletedStep `json:"completedSteps"`
	Status         CycleStatus     `json:"status"`
}

// CycleCompliance is the result of checking a cycle for missing steps.
type CycleCompliance struct {
	Compliant     bool        `json:"compliant"`
	Message       string      `json:"message,omitempty"`
	RequiredSteps []CycleStep `json:"requiredSteps,omitempty"`
	MissingSteps  []CycleStep `json:"missingSteps,omitempty"`
}

// AuditEntry is one append-only record of an attempted operation.
type AuditEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	Operation         Operation `json:"operation"`
	Target            string    `json:"target"`
	Status            string    `json:"status"`
	Actor             string    `json:"actor"`
	Level             int       `json:"level"`
	RollbackReference string    `json:"rollbackReference,omitempty"`
}

// ConsequenceBlocked marks every violation record.
const ConsequenceBlocked = "OPERATION_BLOCKED"

// Violation is a structured policy violation record, kept apart from the
// audit log.
type Violation struct {
	Timestamp   time.Time         `json:"timestamp"`
	OperationID string            `json:"operationId"`
	Violation   string            `json:"violation"`
	Context     map[string]string `json:"context,omitempty"`
	Consequence string            `json:"consequence"`
}

// Cycle event names.
const (
	CycleEventInitialized   = "INITIALIZED"
	CycleEventStepCompleted = "STEP_COMPLETED"
	CycleEventCompleted     = "COMPLETED"
)

// CycleEvent is one entry of the cycle compliance log.
type CycleEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	OperationID string         `json:"operationId"`
	Event       string         `json:"event"`
	Details     map[string]any `json:"details,omitempty"`
}
