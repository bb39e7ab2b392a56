package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
	"github.com/Rogers-F/turngov/internal/workflow"
)

var (
	phaseRepo        string
	phaseValidatedBy string
	phaseArchived    bool
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Inspect and advance task phases",
}

var phaseInitCmd = &cobra.Command{
	Use:   "init <task-id>",
	Short: "Start tracking a task at FETCH",
	Long: `Start tracking a task. --repo may name a tracker issue as owner/repo#123;
its phase label is kept in sync when a GitHub token is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		state, err := e.InitTask(cmd.Context(), args[0], phaseRepo)
		if err != nil {
			return err
		}
		return printState(cmd, state)
	}),
}

var phaseTransitionCmd = &cobra.Command{
	Use:   "transition <task-id> <phase>",
	Short: "Move a task to the next phase",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		to, ok := domain.ParsePhase(strings.ToUpper(args[1]))
		if !ok {
			return domain.NewEngineError(domain.ErrInvalidPhase.Code, "Invalid phase: "+args[1])
		}
		state, err := e.Transition(cmd.Context(), args[0], to, phaseValidatedBy)
		if err != nil {
			return err
		}
		return printState(cmd, state)
	}),
}

var phaseStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's phase status",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		if jsonOutput {
			state, err := e.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		}
		status, err := e.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	}),
}

var phaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tasks",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, _ []string) error {
		states, err := e.List(cmd.Context(), phaseArchived)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, states)
		}
		for _, s := range states {
			line := fmt.Sprintf("%-24s %-6s", s.TaskID, s.CurrentPhase)
			if s.Archived {
				line += " " + dimStyle.Render("archived")
			}
			fmt.Fprintln(out, line)
		}
		return nil
	}),
}

var phaseArchiveCmd = &cobra.Command{
	Use:   "archive <task-id>",
	Short: "Archive a task",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		return e.Archive(cmd.Context(), args[0])
	}),
}

var phaseArtifactCmd = &cobra.Command{
	Use:   "artifact <task-id> <name> <file.json>",
	Short: "Attach a JSON artifact (rfc, testResults, ...) to a task",
	Args:  cobra.ExactArgs(3),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("artifact %s is not valid JSON", args[2])
		}
		return e.AddArtifact(cmd.Context(), args[0], args[1], json.RawMessage(data))
	}),
}

var phaseReportCmd = &cobra.Command{
	Use:   "report <task-id>",
	Short: "Print a markdown progress report",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		state, err := e.GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		artifacts, err := e.Artifacts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), workflow.Report(*state, artifacts))
		return nil
	}),
}

var phaseVisualizeCmd = &cobra.Command{
	Use:   "visualize <task-id>",
	Short: "Print a Mermaid diagram of a task's phases",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *workflow.Engine, args []string) error {
		state, err := e.GetState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), workflow.Visualize(*state))
		return nil
	}),
}

var phaseCheckCmd = &cobra.Command{
	Use:   "check <from> <to>",
	Short: "Check whether a phase transition is legal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		check := workflow.ValidateTransition(domain.Phase(strings.ToUpper(args[0])), domain.Phase(strings.ToUpper(args[1])))
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, check); err != nil {
				return err
			}
		} else if check.Valid {
			fmt.Fprintln(out, okStyle.Render("✓ valid transition"))
		} else {
			fmt.Fprintln(out, errStyle.Render("✗ "+check.Error))
		}
		if !check.Valid {
			return &exitError{code: 1, msg: check.Error}
		}
		return nil
	},
}

var phaseRequirementsCmd = &cobra.Command{
	Use:   "requirements <phase>",
	Short: "List a phase's requirements and next phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := domain.Phase(strings.ToUpper(args[0]))
		if !workflow.IsValidPhase(string(phase)) {
			return domain.NewEngineError(domain.ErrInvalidPhase.Code, "Invalid phase: "+args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render(string(phase)))
		for _, req := range workflow.PhaseRequirements(phase) {
			fmt.Fprintln(out, "  - "+req)
		}
		next := workflow.NextPhases(phase)
		if len(next) == 0 {
			field(out, "Next", dimStyle.Render("terminal"))
		} else {
			field(out, "Next", next[0])
		}
		return nil
	},
}

func init() {
	phaseInitCmd.Flags().StringVar(&phaseRepo, "repo", "", "repository or tracker issue (owner/repo#123)")
	phaseTransitionCmd.Flags().StringVar(&phaseValidatedBy, "by", "", "validator recorded on the transition")
	phaseListCmd.Flags().BoolVar(&phaseArchived, "archived", false, "include archived tasks")

	phaseCmd.AddCommand(
		phaseInitCmd,
		phaseTransitionCmd,
		phaseStatusCmd,
		phaseListCmd,
		phaseArchiveCmd,
		phaseArtifactCmd,
		phaseReportCmd,
		phaseVisualizeCmd,
		phaseCheckCmd,
		phaseRequirementsCmd,
	)
}

func withEngine(fn func(cmd *cobra.Command, e *workflow.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		e, err := newEngine(cmd.Context(), cfg, db, logger, metrics.New())
		if err != nil {
			return err
		}
		return fn(cmd, e, args)
	}
}

func printState(cmd *cobra.Command, s *domain.WorkflowState) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, s)
	}
	field(out, "Task", s.TaskID)
	field(out, "Phase", s.CurrentPhase)
	if len(s.CompletedPhases) > 0 {
		names := make([]string, len(s.CompletedPhases))
		for i, p := range s.CompletedPhases {
			names[i] = string(p)
		}
		field(out, "Completed", strings.Join(names, " → "))
	}
	return nil
}
