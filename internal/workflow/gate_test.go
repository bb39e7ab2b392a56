package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestCheckArtifacts_RFC(t *testing.T) {
	check := CheckArtifacts(domain.PhasePlan, Artifacts{RFC: &RFC{Problem: "slow startup", Risks: "  "}}, DefaultMinCoverage)
	assert.False(t, check.Valid)
	assert.Equal(t, []string{"RFC missing required fields: solution, risks, timeline"}, check.Errors)

	check = CheckArtifacts(domain.PhasePlan, Artifacts{RFC: &RFC{Problem: "p", Solution: "s", Risks: "r", Timeline: "t"}}, DefaultMinCoverage)
	assert.True(t, check.Valid)
	assert.Equal(t, []string{}, check.Errors)

	// Absent artifacts and other phases are not checked.
	assert.True(t, CheckArtifacts(domain.PhasePlan, Artifacts{}, DefaultMinCoverage).Valid)
	assert.True(t, CheckArtifacts(domain.PhaseBuild, Artifacts{RFC: &RFC{}}, DefaultMinCoverage).Valid)
}

func TestCheckArtifacts_TestResults(t *testing.T) {
	check := CheckArtifacts(domain.PhaseVerif, Artifacts{TestResults: &TestResults{
		Unit:     &TestCounts{Passed: 10, Failed: 2},
		Coverage: floatPtr(65),
	}}, DefaultMinCoverage)
	assert.False(t, check.Valid)
	assert.Equal(t, []string{
		"Unit tests have 2 failures",
		"Test coverage (65%) below threshold (80%)",
	}, check.Errors)

	check = CheckArtifacts(domain.PhaseVerif, Artifacts{TestResults: &TestResults{Coverage: floatPtr(80)}}, DefaultMinCoverage)
	assert.True(t, check.Valid, "threshold is inclusive")

	check = CheckArtifacts(domain.PhaseVerif, Artifacts{TestResults: &TestResults{Unit: &TestCounts{Passed: 3}}}, DefaultMinCoverage)
	assert.True(t, check.Valid, "missing coverage is not checked")
}

func TestDecodeArtifacts(t *testing.T) {
	a, err := DecodeArtifacts([]domain.Artifact{
		{Name: ArtifactRFC, ContentJSON: `{"problem":"p","solution":"s"}`},
		{Name: ArtifactTestResults, ContentJSON: `{"unit":{"passed":4,"failed":0},"coverage":91.5}`},
		{Name: "notes", ContentJSON: `"free text"`},
	})
	require.NoError(t, err)
	require.NotNil(t, a.RFC)
	assert.Equal(t, "s", a.RFC.Solution)
	require.NotNil(t, a.TestResults)
	assert.Equal(t, 91.5, *a.TestResults.Coverage)

	_, err = DecodeArtifacts([]domain.Artifact{{Name: ArtifactRFC, ContentJSON: `[1,2]`}})
	assert.Error(t, err)
}

func TestArtifactGate(t *testing.T) {
	gate := &ArtifactGate{MinCoverage: DefaultMinCoverage}
	assert.Equal(t, "artifacts", gate.Name())

	d, err := gate.Evaluate(context.Background(),
		domain.WorkflowState{CurrentPhase: domain.PhasePlan},
		Artifacts{RFC: &RFC{Problem: "p"}})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Len(t, d.Blockers, 1)

	d, err = gate.Evaluate(context.Background(), domain.WorkflowState{CurrentPhase: domain.PhaseFetch}, Artifacts{})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

type blockGate struct{}

func (blockGate) Name() string { return "block" }

func (blockGate) Evaluate(context.Context, domain.WorkflowState, Artifacts) (GateDecision, error) {
	return GateDecision{Blockers: []string{"frozen"}}, nil
}

func TestPhaseGateRegistry(t *testing.T) {
	r := NewPhaseGateRegistry(DefaultMinCoverage)
	for _, p := range domain.Phases() {
		g, err := r.Get(p)
		require.NoError(t, err)
		assert.Equal(t, "artifacts", g.Name())
	}

	r.Register(domain.PhaseBuild, blockGate{})
	g, err := r.Get(domain.PhaseBuild)
	require.NoError(t, err)
	assert.Equal(t, "block", g.Name())

	_, err = r.Get("BOGUS")
	assert.True(t, errors.Is(err, domain.ErrInvalidPhase))
}
