// Package ipc provides the HTTP API over the guard pipeline, the phase
// engine, and the policy guard.
package ipc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/guard"
	"github.com/Rogers-F/turngov/internal/metrics"
	"github.com/Rogers-F/turngov/internal/policy"
	"github.com/Rogers-F/turngov/internal/workflow"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Pipeline *guard.Pipeline
	Engine   *workflow.Engine
	Policy   *policy.Guard
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// AllowedOrigins lists browser origins admitted by the CORS layer.
	AllowedOrigins []string
}

// ValidateRequest is the body for POST /api/v1/validate. Exactly one of
// Content and Path is set.
type ValidateRequest struct {
	Content        string `json:"content,omitempty"`
	Path           string `json:"path,omitempty"`
	CheckAllGuards bool   `json:"check_all_guards"`
	Role           string `json:"role,omitempty"`
}

// LogOperationRequest is the body for POST /api/v1/operations/log.
type LogOperationRequest struct {
	Operation         domain.Operation `json:"operation"`
	Target            string           `json:"target"`
	Status            string           `json:"status"`
	Actor             string           `json:"actor"`
	RollbackReference string           `json:"rollback_reference,omitempty"`
}

// ViolationRequest is the body for POST /api/v1/violations.
type ViolationRequest struct {
	OperationID string            `json:"operation_id"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
}

// StepRequest is the body for POST /api/v1/cycles/{operationID}/steps.
type StepRequest struct {
	Step string `json:"step"`
}

// ComplianceRequest is the body for POST /api/v1/cycles/{operationID}/compliance.
type ComplianceRequest struct {
	Operation domain.Operation `json:"operation"`
	Target    string           `json:"target"`
}

// InitTaskRequest is the body for POST /api/v1/workflows.
type InitTaskRequest struct {
	TaskID     string `json:"task_id"`
	Repository string `json:"repository,omitempty"`
}

// TransitionRequest is the body for POST /api/v1/workflows/{taskID}/transition.
type TransitionRequest struct {
	To          string `json:"to"`
	ValidatedBy string `json:"validated_by,omitempty"`
}

// ArtifactRequest is the body for POST /api/v1/workflows/{taskID}/artifacts.
type ArtifactRequest struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Guards handles GET /api/v1/guards.
func (h *Handler) Guards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Pipeline.Guards())
}

// Validate handles POST /api/v1/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.Content == "") == (req.Path == "") {
		badRequest(w, "exactly one of content and path is required")
		return
	}
	opts := guard.Options{CheckAllGuards: req.CheckAllGuards, Role: req.Role}

	var result domain.ValidationResult
	if req.Path != "" {
		result = h.Pipeline.ValidateFile(r.Context(), req.Path, opts)
	} else {
		result = h.Pipeline.Validate(r.Context(), req.Content, opts)
	}
	writeJSON(w, http.StatusOK, result)
}

// CheckOperation handles POST /api/v1/operations/check.
func (h *Handler) CheckOperation(w http.ResponseWriter, r *http.Request) {
	var req domain.OperationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Operation == "" || req.Target == "" {
		badRequest(w, "operation and target are required")
		return
	}
	writeJSON(w, http.StatusOK, h.Policy.CheckOperation(r.Context(), req.Operation, req.Target, req.Context))
}

// LogOperation handles POST /api/v1/operations/log.
func (h *Handler) LogOperation(w http.ResponseWriter, r *http.Request) {
	var req LogOperationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Operation == "" || req.Target == "" {
		badRequest(w, "operation and target are required")
		return
	}
	var opts []policy.LogOption
	if req.RollbackReference != "" {
		opts = append(opts, policy.WithRollbackReference(req.RollbackReference))
	}
	h.Policy.LogOperation(r.Context(), req.Operation, req.Target, req.Status, req.Actor, opts...)
	w.WriteHeader(http.StatusAccepted)
}

// ReportViolation handles POST /api/v1/violations.
func (h *Handler) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req ViolationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OperationID == "" || req.Description == "" {
		badRequest(w, "operation_id and description are required")
		return
	}
	h.Policy.ReportViolation(r.Context(), req.OperationID, req.Description, req.Context)
	w.WriteHeader(http.StatusAccepted)
}

// GetCycle handles GET /api/v1/cycles/{operationID}.
func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("operationID")
	state, ok := h.Policy.Cycle(id)
	if !ok {
		writeError(w, domain.NewEngineError(domain.ErrCycleNotFound.Code, "No cycle state found for operation "+id))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// RecordStep handles POST /api/v1/cycles/{operationID}/steps.
func (h *Handler) RecordStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("operationID")
	var req StepRequest
	if !decode(w, r, &req) {
		return
	}
	step, err := domain.ParseCycleStep(req.Step)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Policy.RecordCycleStep(r.Context(), id, step); err != nil {
		writeError(w, err)
		return
	}
	state, _ := h.Policy.Cycle(id)
	writeJSON(w, http.StatusOK, state)
}

// CompleteCycle handles POST /api/v1/cycles/{operationID}/complete.
func (h *Handler) CompleteCycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("operationID")
	if err := h.Policy.CompleteCycle(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Compliance handles POST /api/v1/cycles/{operationID}/compliance.
func (h *Handler) Compliance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("operationID")
	var req ComplianceRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.Policy.ValidateCycleCompliance(r.Context(), id, req.Operation, req.Target))
}

// InitTask handles POST /api/v1/workflows.
func (h *Handler) InitTask(w http.ResponseWriter, r *http.Request) {
	var req InitTaskRequest
	if !decode(w, r, &req) {
		return
	}
	state, err := h.Engine.InitTask(r.Context(), req.TaskID, req.Repository)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// ListTasks handles GET /api/v1/workflows?archived=true.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
	states, err := h.Engine.List(r.Context(), includeArchived)
	if err != nil {
		writeError(w, err)
		return
	}
	if states == nil {
		states = []domain.WorkflowState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// GetTask handles GET /api/v1/workflows/{taskID}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	state, err := h.Engine.GetState(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Transition handles POST /api/v1/workflows/{taskID}/transition.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	to, ok := domain.ParsePhase(req.To)
	if !ok {
		writeError(w, domain.NewEngineError(domain.ErrInvalidPhase.Code, "Invalid phase: "+req.To))
		return
	}
	state, err := h.Engine.Transition(r.Context(), r.PathValue("taskID"), to, req.ValidatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Archive handles POST /api/v1/workflows/{taskID}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Archive(r.Context(), r.PathValue("taskID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddArtifact handles POST /api/v1/workflows/{taskID}/artifacts.
func (h *Handler) AddArtifact(w http.ResponseWriter, r *http.Request) {
	var req ArtifactRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || len(req.Content) == 0 {
		badRequest(w, "name and content are required")
		return
	}
	if err := h.Engine.AddArtifact(r.Context(), r.PathValue("taskID"), req.Name, req.Content); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListArtifacts handles GET /api/v1/workflows/{taskID}/artifacts.
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.Engine.Artifacts(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// Report handles GET /api/v1/workflows/{taskID}/report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")
	state, err := h.Engine.GetState(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	artifacts, err := h.Engine.Artifacts(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, "text/markdown; charset=utf-8", workflow.Report(*state, artifacts))
}

// Visualize handles GET /api/v1/workflows/{taskID}/visualize.
func (h *Handler) Visualize(w http.ResponseWriter, r *http.Request) {
	state, err := h.Engine.GetState(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, "text/plain; charset=utf-8", workflow.Visualize(*state))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		writeJSON(w, statusFor(engErr.Code), APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func statusFor(code int) int {
	switch code {
	case domain.ErrFlowNotFound.Code, domain.ErrCycleNotFound.Code:
		return http.StatusNotFound
	case domain.ErrDuplicateTask.Code, domain.ErrOptimisticLock.Code:
		return http.StatusConflict
	case domain.ErrInvalidPhase.Code, domain.ErrInvalidTaskID.Code, domain.ErrUnknownCycleStep.Code:
		return http.StatusBadRequest
	case domain.ErrInvalidTransition.Code, domain.ErrTerminalPhase.Code,
		domain.ErrPhaseGateFailed.Code, domain.ErrFlowArchived.Code:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
