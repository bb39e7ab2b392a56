package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Rogers-F/turngov/internal/domain"
)

func TestReport(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	state := domain.WorkflowState{
		TaskID:          "task-3",
		CurrentPhase:    domain.PhaseAna,
		CompletedPhases: []domain.Phase{domain.PhaseFetch, domain.PhaseInv},
		Transitions: []domain.Transition{
			{From: domain.PhaseFetch, To: domain.PhaseInv, Timestamp: start.Add(time.Hour), ValidatedBy: "WorkflowManager"},
			{From: domain.PhaseInv, To: domain.PhaseAna, Timestamp: start.Add(2 * time.Hour)},
		},
		StartTime:  start,
		LastUpdate: start.Add(2 * time.Hour),
	}
	artifacts := []domain.Artifact{{Name: "rfc", ContentJSON: `{"problem":"p"}`}}

	report := Report(state, artifacts)
	assert.True(t, strings.HasPrefix(report, "# Workflow Progress Report\n## Task: task-3\n"))
	assert.Contains(t, report, "- **Phase**: ANA")
	assert.Contains(t, report, "- **Started**: 2026-04-01T09:00:00Z")
	assert.Contains(t, report, "- ✅ FETCH\n- ✅ INV\n")
	assert.Contains(t, report, "- FETCH → INV (2026-04-01T10:00:00Z) by WorkflowManager\n")
	assert.Contains(t, report, "- INV → ANA (2026-04-01T11:00:00Z)\n")
	assert.Contains(t, report, "- **rfc**: {\n  \"problem\": \"p\"\n}")
	assert.Contains(t, report, "- Complete ANA phase requirements\n  - Root cause analysis\n")
	assert.True(t, strings.HasSuffix(report, "- Run validation checks"))
}

func TestVisualize(t *testing.T) {
	state := domain.WorkflowState{
		CurrentPhase:    domain.PhaseInv,
		CompletedPhases: []domain.Phase{domain.PhaseFetch},
	}
	out := Visualize(state)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "graph LR", lines[0])
	assert.Equal(t, "  FETCH[FETCH]:::completed", lines[1])
	assert.Equal(t, "  FETCH --> INV", lines[2])
	assert.Equal(t, "  INV[INV]:::current", lines[3])
	assert.Equal(t, "  ANA[ANA]", lines[5])
	assert.Contains(t, out, "  REL[REL]\n\nclassDef completed")
	assert.NotContains(t, out, "REL -->")
	assert.True(t, strings.HasSuffix(out, "classDef current fill:#87CEEB,stroke:#333,stroke-width:4px;"))
}
