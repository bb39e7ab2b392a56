package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/tracker"
)

// DefaultTrackerTimeout bounds every external tracker call.
const DefaultTrackerTimeout = 10 * time.Second

// LabelTracker is the external issue tracker holding phase labels.
type LabelTracker interface {
	Labels(ctx context.Context, ref tracker.IssueRef) ([]string, error)
	AddLabels(ctx context.Context, ref tracker.IssueRef, labels ...string) error
	RemoveLabel(ctx context.Context, ref tracker.IssueRef, label string) error
}

// TransitionCheck is the verdict for a proposed phase change.
type TransitionCheck struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// LabelResult reports the outcome of a tracker label mutation.
type LabelResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PhaseEntry is one record of the phase history.
type PhaseEntry struct {
	Phase     domain.Phase `json:"phase"`
	Timestamp time.Time    `json:"timestamp"`
}

// Summary describes overall progress through the phases.
type Summary struct {
	CurrentPhase    domain.Phase   `json:"currentPhase,omitempty"`
	CompletedPhases []domain.Phase `json:"completedPhases"`
	RemainingPhases []domain.Phase `json:"remainingPhases"`
	Progress        float64        `json:"progress"`
}

var phaseRequirements = map[domain.Phase][]string{
	domain.PhaseFetch: {"Document retrieval", "URL validation", "Cache management"},
	domain.PhaseInv:   {"Reproduce issue", "Environment setup", "Initial analysis"},
	domain.PhaseAna:   {"Root cause analysis", "Impact assessment", "Dependencies check"},
	domain.PhasePlan:  {"RFC document", "WBS creation", "Risk assessment"},
	domain.PhaseBuild: {"Implementation", "Unit tests", "Documentation"},
	domain.PhaseVerif: {"Integration tests", "Performance tests", "Security review"},
	domain.PhaseRel:   {"Release notes", "Version bump", "Deployment checklist"},
}

// IsValidPhase reports whether s names one of the seven phases, exact case.
func IsValidPhase(s string) bool {
	_, ok := domain.ParsePhase(s)
	return ok
}

// ValidateTransition checks that to is the immediate successor of from.
// REL is terminal whatever the target.
func ValidateTransition(from, to domain.Phase) TransitionCheck {
	if from == domain.PhaseRel {
		return TransitionCheck{Error: "REL is a terminal phase"}
	}
	if !from.Valid() || !to.Valid() {
		return TransitionCheck{Error: "Invalid phase"}
	}
	if domain.IsLegalTransition(from, to) {
		return TransitionCheck{Valid: true}
	}
	if to.Index() > from.Index()+1 {
		next, _ := from.Next()
		return TransitionCheck{Error: fmt.Sprintf("Phase skip detected: %s → %s (next phase must be %s)", from, to, next)}
	}
	return TransitionCheck{Error: fmt.Sprintf("Invalid transition: %s → %s", from, to)}
}

// NextPhases returns the legal successors of current. An empty current
// means the workflow has not started, so FETCH is the only option.
func NextPhases(current domain.Phase) []domain.Phase {
	if current == "" {
		return []domain.Phase{domain.PhaseFetch}
	}
	next, ok := current.Next()
	if !ok {
		return []domain.Phase{}
	}
	return []domain.Phase{next}
}

// PhaseRequirements returns the completion criteria documented for phase.
func PhaseRequirements(phase domain.Phase) []string {
	return append([]string{}, phaseRequirements[phase]...)
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithTracker attaches an external label tracker.
func WithTracker(t LabelTracker) MachineOption {
	return func(m *Machine) { m.tracker = t }
}

// WithMachineLogger sets the logger.
func WithMachineLogger(l *zap.Logger) MachineOption {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// WithTrackerTimeout bounds each tracker call.
func WithTrackerTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.trackerTimeout = d
		}
	}
}

// WithMinCoverage overrides the VERIF coverage threshold.
func WithMinCoverage(pct float64) MachineOption {
	return func(m *Machine) { m.minCoverage = pct }
}

// Machine tracks one agent's position in the phase ordering. It is safe
// for concurrent use; readers never observe a half-applied phase change.
type Machine struct {
	mu      sync.RWMutex
	current domain.Phase
	history []PhaseEntry

	tracker        LabelTracker
	trackerTimeout time.Duration
	minCoverage    float64
	logger         *zap.Logger
	now            func() time.Time
}

// NewMachine creates a Machine with no current phase.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		trackerTimeout: DefaultTrackerTimeout,
		minCoverage:    DefaultMinCoverage,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsValidPhase reports whether s names one of the seven phases.
func (m *Machine) IsValidPhase(s string) bool {
	return IsValidPhase(s)
}

// ValidateTransition checks a proposed phase change.
func (m *Machine) ValidateTransition(from, to domain.Phase) TransitionCheck {
	return ValidateTransition(from, to)
}

// SetCurrentPhase records phase as current and appends it to the history.
func (m *Machine) SetCurrentPhase(phase domain.Phase) error {
	if !phase.Valid() {
		return domain.NewEngineError(domain.ErrInvalidPhase.Code, "Invalid phase: "+string(phase))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = phase
	m.history = append(m.history, PhaseEntry{Phase: phase, Timestamp: m.now()})
	return nil
}

// CurrentPhase returns the current phase, or false if none was set.
func (m *Machine) CurrentPhase() (domain.Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != ""
}

// NextPhases returns the legal successors of current.
func (m *Machine) NextPhases(current domain.Phase) []domain.Phase {
	return NextPhases(current)
}

// PhaseRequirements returns the completion criteria documented for phase.
func (m *Machine) PhaseRequirements(phase domain.Phase) []string {
	return PhaseRequirements(phase)
}

// ValidatePhaseArtifacts runs the structural checks for phase.
func (m *Machine) ValidatePhaseArtifacts(phase domain.Phase, a Artifacts) ArtifactCheck {
	return CheckArtifacts(phase, a, m.minCoverage)
}

// PhaseHistory returns a copy of the phase log in order.
func (m *Machine) PhaseHistory() []PhaseEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PhaseEntry{}, m.history...)
}

// PhaseDuration returns the time between the first entry for phase and
// the entry after it. It returns false when phase was never entered or is
// still the latest entry.
func (m *Machine) PhaseDuration(phase domain.Phase) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, e := range m.history {
		if e.Phase != phase {
			continue
		}
		if i == len(m.history)-1 {
			return 0, false
		}
		return m.history[i+1].Timestamp.Sub(e.Timestamp), true
	}
	return 0, false
}

// IsComplete reports whether the workflow reached REL.
func (m *Machine) IsComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == domain.PhaseRel
}

// Summary reports progress. Completed phases are the distinct phases seen
// in the history, the current one included.
func (m *Machine) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[domain.Phase]bool)
	completed := []domain.Phase{}
	for _, e := range m.history {
		if !seen[e.Phase] {
			seen[e.Phase] = true
			completed = append(completed, e.Phase)
		}
	}

	all := domain.Phases()
	remaining := all
	if i := m.current.Index(); i >= 0 {
		remaining = all[i+1:]
	}

	return Summary{
		CurrentPhase:    m.current,
		CompletedPhases: completed,
		RemainingPhases: append([]domain.Phase{}, remaining...),
		Progress:        float64(len(completed)) / float64(len(all)),
	}
}

// PhaseFromTracker derives the phase from the first "phase:" label on the
// issue. Lookup failures and unknown phases yield false, never an error.
func (m *Machine) PhaseFromTracker(ctx context.Context, issue int) (domain.Phase, bool) {
	if m.tracker == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, m.trackerTimeout)
	defer cancel()

	labels, err := m.tracker.Labels(ctx, tracker.IssueRef{Number: issue})
	if err != nil {
		m.logger.Warn("tracker lookup failed", zap.Int("issue", issue), zap.Error(err))
		return "", false
	}
	return phaseFromLabels(labels)
}

// AddPhaseLabel attaches the label for phase to the issue.
func (m *Machine) AddPhaseLabel(ctx context.Context, issue int, phase domain.Phase) LabelResult {
	if m.tracker == nil {
		return LabelResult{Error: "no issue tracker configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, m.trackerTimeout)
	defer cancel()
	return labelResult(syncLabels(ctx, m.tracker, tracker.IssueRef{Number: issue}, "", phase))
}

// UpdatePhaseLabel replaces the label for oldPhase with the one for newPhase.
func (m *Machine) UpdatePhaseLabel(ctx context.Context, issue int, oldPhase, newPhase domain.Phase) LabelResult {
	if m.tracker == nil {
		return LabelResult{Error: "no issue tracker configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, m.trackerTimeout)
	defer cancel()
	return labelResult(syncLabels(ctx, m.tracker, tracker.IssueRef{Number: issue}, oldPhase, newPhase))
}

// syncLabels removes the old phase label, if any, then adds the new one.
func syncLabels(ctx context.Context, t LabelTracker, ref tracker.IssueRef, oldPhase, newPhase domain.Phase) error {
	if oldPhase != "" {
		if err := t.RemoveLabel(ctx, ref, tracker.PhaseLabel(string(oldPhase))); err != nil {
			return err
		}
	}
	return t.AddLabels(ctx, ref, tracker.PhaseLabel(string(newPhase)))
}

func labelResult(err error) LabelResult {
	if err != nil {
		return LabelResult{Error: err.Error()}
	}
	return LabelResult{Success: true}
}

func phaseFromLabels(labels []string) (domain.Phase, bool) {
	for _, l := range labels {
		if strings.HasPrefix(l, tracker.LabelPrefix) {
			return domain.ParsePhase(strings.TrimPrefix(l, tracker.LabelPrefix))
		}
	}
	return "", false
}
