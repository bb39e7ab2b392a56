package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Report renders a markdown progress report for a task.
func Report(state domain.WorkflowState, artifacts []domain.Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow Progress Report\n")
	fmt.Fprintf(&b, "## Task: %s\n\n", state.TaskID)

	b.WriteString("### Current Status\n")
	fmt.Fprintf(&b, "- **Phase**: %s\n", state.CurrentPhase)
	fmt.Fprintf(&b, "- **Started**: %s\n", state.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Last Updated**: %s\n\n", state.LastUpdate.UTC().Format(time.RFC3339))

	b.WriteString("### Completed Phases\n")
	for _, p := range state.CompletedPhases {
		fmt.Fprintf(&b, "- ✅ %s\n", p)
	}

	b.WriteString("\n### Phase Transitions\n")
	for _, t := range state.Transitions {
		fmt.Fprintf(&b, "- %s → %s (%s)", t.From, t.To, t.Timestamp.UTC().Format(time.RFC3339))
		if t.ValidatedBy != "" {
			fmt.Fprintf(&b, " by %s", t.ValidatedBy)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\n### Artifacts\n")
	for _, a := range artifacts {
		fmt.Fprintf(&b, "- **%s**: %s\n", a.Name, indentJSON(a.ContentJSON))
	}

	b.WriteString("\n### Next Steps\n")
	fmt.Fprintf(&b, "- Complete %s phase requirements\n", state.CurrentPhase)
	for _, req := range PhaseRequirements(state.CurrentPhase) {
		fmt.Fprintf(&b, "  - %s\n", req)
	}
	b.WriteString("- Obtain necessary approvals\n")
	b.WriteString("- Run validation checks")
	return b.String()
}

func indentJSON(raw string) string {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return out.String()
}

// Visualize renders the phase chain as a Mermaid graph with completed and
// current phases styled.
func Visualize(state domain.WorkflowState) string {
	completed := make(map[domain.Phase]bool, len(state.CompletedPhases))
	for _, p := range state.CompletedPhases {
		completed[p] = true
	}

	phases := domain.Phases()
	lines := []string{"graph LR"}
	for i, p := range phases {
		style := ""
		switch {
		case completed[p]:
			style = ":::completed"
		case state.CurrentPhase == p:
			style = ":::current"
		}
		lines = append(lines, fmt.Sprintf("  %s[%s]%s", p, p, style))
		if i < len(phases)-1 {
			lines = append(lines, fmt.Sprintf("  %s --> %s", p, phases[i+1]))
		}
	}
	lines = append(lines,
		"",
		"classDef completed fill:#90EE90,stroke:#333,stroke-width:2px;",
		"classDef current fill:#87CEEB,stroke:#333,stroke-width:4px;",
	)
	return strings.Join(lines, "\n")
}
