package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError carrying the same code, so wrapped variants
// built with NewEngineError still satisfy errors.Is against the sentinels.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Workflow / phase errors (-32010 to -32039) ----

var (
	ErrInvalidPhase      = &EngineError{Code: -32010, Message: "invalid phase value"}
	ErrInvalidTransition = &EngineError{Code: -32011, Message: "invalid phase transition"}
	ErrTerminalPhase     = &EngineError{Code: -32012, Message: "phase is terminal"}
	ErrFlowNotFound      = &EngineError{Code: -32013, Message: "workflow not found"}
	ErrFlowArchived      = &EngineError{Code: -32014, Message: "workflow is archived"}
	ErrOptimisticLock    = &EngineError{Code: -32015, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrDuplicateTask     = &EngineError{Code: -32016, Message: "task already exists"}
	ErrPhaseGateFailed   = &EngineError{Code: -32017, Message: "phase gate blocked transition"}
	ErrInvalidTaskID     = &EngineError{Code: -32018, Message: "task id must not be empty"}
)

// ---- Collaborator errors (-32070 to -32099) ----

var (
	ErrTrackerUnavailable = &EngineError{Code: -32070, Message: "issue tracker unavailable"}
	ErrDiffUnavailable    = &EngineError{Code: -32071, Message: "version control diff not available"}
	ErrDocumentRead       = &EngineError{Code: -32072, Message: "turn document could not be read"}
)

// ---- Policy / cycle errors (-32100 to -32129) ----

var (
	ErrRulesNotFound      = &EngineError{Code: -32100, Message: "policy rule set not found"}
	ErrRulesInvalid       = &EngineError{Code: -32101, Message: "policy rule set is invalid"}
	ErrForbiddenOperation = &EngineError{Code: -32102, Message: "operation is forbidden"}
	ErrCycleNotFound      = &EngineError{Code: -32103, Message: "no cycle state for operation"}
	ErrUnknownCycleStep   = &EngineError{Code: -32104, Message: "unknown cycle step"}
)

// ---- Store / config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
)
