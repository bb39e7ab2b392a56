package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/guard"
	"github.com/Rogers-F/turngov/internal/metrics"
)

var (
	validateAll  bool
	validateRole string
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Validate a turn document against the guard catalogue",
	Long: `Validate a turn document. The process exits 0 when the document is valid,
otherwise with the exit code of the first failing guard.

Examples:
  turngov validate turn.md
  cat turn.md | turngov validate -
  turngov validate --all --role review turn.md`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateAll, "all", false, "run every guard instead of stopping at the first failure")
	validateCmd.Flags().StringVar(&validateRole, "role", "", "actor role (default: config, then $TURN_ROLE, then dev)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p := newPipeline(cfg, logger, metrics.New())
	opts := guard.Options{CheckAllGuards: validateAll, Role: validateRole}

	var result domain.ValidationResult
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		result = p.Validate(cmd.Context(), string(data), opts)
	} else {
		result = p.ValidateFile(cmd.Context(), args[0], opts)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		printValidation(out, result)
	}

	if result.Valid {
		return nil
	}
	return &exitError{code: exitCodeFor(p, result), msg: "turn document is invalid"}
}

func printValidation(w io.Writer, r domain.ValidationResult) {
	if r.Phase != "" {
		field(w, "Phase", r.Phase)
	}
	if r.Valid {
		fmt.Fprintln(w, okStyle.Render("✓ valid"))
	} else {
		fmt.Fprintln(w, errStyle.Render("✗ invalid"))
	}
	for _, e := range r.Errors {
		fmt.Fprintln(w, "  "+errStyle.Render("error")+" "+e)
	}
	for _, wn := range r.Warnings {
		fmt.Fprintln(w, "  "+warnStyle.Render("warn")+"  "+wn)
	}
}

// exitCodeFor maps the first error's guard id to its exit code. Errors
// that name no guard exit 1.
func exitCodeFor(p *guard.Pipeline, r domain.ValidationResult) int {
	if len(r.Errors) == 0 {
		return 1
	}
	id, _, ok := strings.Cut(r.Errors[0], ":")
	if !ok {
		return 1
	}
	if code, ok := p.ExitCode(id); ok {
		return code
	}
	return 1
}

var guardsCmd = &cobra.Command{
	Use:   "guards",
	Short: "List the guard catalogue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := guard.New()
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, p.Guards())
		}
		fmt.Fprintln(out, headerStyle.Render("Guards (evaluation order)"))
		for _, g := range p.Guards() {
			phases := "all phases"
			if len(g.Phases) > 0 {
				names := make([]string, len(g.Phases))
				for i, ph := range g.Phases {
					names[i] = string(ph)
				}
				phases = strings.Join(names, ", ")
			}
			fmt.Fprintf(out, "  %-9s %3d  %-11s %s %s\n",
				g.ID, g.ExitCode, g.Category, g.Description, dimStyle.Render("("+phases+")"))
		}
		return nil
	},
}

