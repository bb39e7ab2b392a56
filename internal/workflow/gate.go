// Package workflow implements the seven-phase task state machine and its
// persisted task engine.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rogers-F/turngov/internal/domain"
)

// DefaultMinCoverage is the VERIF coverage threshold in percent.
const DefaultMinCoverage = 80

// Artifact names understood by the phase gates.
const (
	ArtifactRFC         = "rfc"
	ArtifactTestResults = "testResults"
)

// RFC is the planning artifact.
type RFC struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Risks    string `json:"risks"`
	Timeline string `json:"timeline"`
}

// TestCounts holds pass/fail counts for one test suite.
type TestCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// TestResults is the verification artifact.
type TestResults struct {
	Unit        *TestCounts `json:"unit,omitempty"`
	Integration *TestCounts `json:"integration,omitempty"`
	Coverage    *float64    `json:"coverage,omitempty"`
}

// Artifacts are the phase outputs a gate inspects. Absent artifacts are
// not checked.
type Artifacts struct {
	RFC         *RFC         `json:"rfc,omitempty"`
	TestResults *TestResults `json:"testResults,omitempty"`
}

// ArtifactCheck is the outcome of CheckArtifacts.
type ArtifactCheck struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// CheckArtifacts runs the structural checks for phase.
func CheckArtifacts(phase domain.Phase, a Artifacts, minCoverage float64) ArtifactCheck {
	errs := []string{}

	if phase == domain.PhasePlan && a.RFC != nil {
		var missing []string
		for _, f := range []struct{ name, value string }{
			{"problem", a.RFC.Problem},
			{"solution", a.RFC.Solution},
			{"risks", a.RFC.Risks},
			{"timeline", a.RFC.Timeline},
		} {
			if strings.TrimSpace(f.value) == "" {
				missing = append(missing, f.name)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, "RFC missing required fields: "+strings.Join(missing, ", "))
		}
	}

	if phase == domain.PhaseVerif && a.TestResults != nil {
		tr := a.TestResults
		if tr.Unit != nil && tr.Unit.Failed > 0 {
			errs = append(errs, fmt.Sprintf("Unit tests have %d failures", tr.Unit.Failed))
		}
		if tr.Coverage != nil && *tr.Coverage < minCoverage {
			errs = append(errs, fmt.Sprintf("Test coverage (%s%%) below threshold (%s%%)",
				formatPercent(*tr.Coverage), formatPercent(minCoverage)))
		}
	}

	return ArtifactCheck{Valid: len(errs) == 0, Errors: errs}
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DecodeArtifacts assembles stored artifacts into the typed set the gates
// read. Artifacts with other names are ignored.
func DecodeArtifacts(stored []domain.Artifact) (Artifacts, error) {
	var a Artifacts
	for _, s := range stored {
		var err error
		switch s.Name {
		case ArtifactRFC:
			a.RFC = &RFC{}
			err = json.Unmarshal([]byte(s.ContentJSON), a.RFC)
		case ArtifactTestResults:
			a.TestResults = &TestResults{}
			err = json.Unmarshal([]byte(s.ContentJSON), a.TestResults)
		}
		if err != nil {
			return Artifacts{}, fmt.Errorf("decode artifact %q: %w", s.Name, err)
		}
	}
	return a, nil
}

// GateDecision is the verdict of a phase exit gate.
type GateDecision struct {
	Allow    bool     `json:"allow"`
	Blockers []string `json:"blockers,omitempty"`
}

// Gate evaluates whether a workflow can exit its current phase.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, state domain.WorkflowState, artifacts Artifacts) (GateDecision, error)
}

// ArtifactGate blocks a phase exit while the phase's artifacts fail their
// structural checks.
type ArtifactGate struct {
	MinCoverage float64
}

// Name returns the gate name.
func (g *ArtifactGate) Name() string {
	return "artifacts"
}

// Evaluate checks the artifacts of the state's current phase.
func (g *ArtifactGate) Evaluate(_ context.Context, state domain.WorkflowState, artifacts Artifacts) (GateDecision, error) {
	check := CheckArtifacts(state.CurrentPhase, artifacts, g.MinCoverage)
	return GateDecision{Allow: check.Valid, Blockers: check.Errors}, nil
}

// PhaseGateRegistry maps each phase to its exit gate.
type PhaseGateRegistry struct {
	gates map[domain.Phase]Gate
}

// NewPhaseGateRegistry creates a registry with an artifact gate for all phases.
func NewPhaseGateRegistry(minCoverage float64) *PhaseGateRegistry {
	g := &ArtifactGate{MinCoverage: minCoverage}
	gates := make(map[domain.Phase]Gate)
	for _, p := range domain.Phases() {
		gates[p] = g
	}
	return &PhaseGateRegistry{gates: gates}
}

// Register sets a custom gate for a phase.
func (r *PhaseGateRegistry) Register(phase domain.Phase, gate Gate) {
	r.gates[phase] = gate
}

// Get returns the gate for a phase, or ErrInvalidPhase if none is registered.
func (r *PhaseGateRegistry) Get(phase domain.Phase) (Gate, error) {
	g, ok := r.gates[phase]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrInvalidPhase.Code, "no gate registered for phase "+string(phase))
	}
	return g, nil
}
