package main

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
)

// exitForbidden is the exit code of a denied operation.
const exitForbidden = 2

var checkReason string

var checkCmd = &cobra.Command{
	Use:   "check <operation> <target>",
	Short: "Check an operation against the policy rule set",
	Long: `Check whether an operation may proceed. Operations: read, create, modify,
delete, delete_directory, execute. A forbidden operation exits 2 and is
recorded as a violation.

Examples:
  turngov check delete package.json
  turngov check execute "git reset --hard" --reason "drop local experiment"`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkReason, "reason", "", "reason shown in the confirmation prompt")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var db *sql.DB
	if cfg.Audit.SQLite {
		if db, err = openDB(cfg); err != nil {
			return err
		}
		defer db.Close()
	}
	g, closeSinks, err := newPolicy(cfg, db, logger, metrics.New())
	if err != nil {
		return err
	}
	defer closeSinks()

	var opctx *domain.OperationContext
	if checkReason != "" {
		opctx = &domain.OperationContext{Reason: checkReason}
	}
	d := g.CheckOperation(cmd.Context(), domain.Operation(args[0]), args[1], opctx)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, d); err != nil {
			return err
		}
	} else {
		printDecision(out, d)
	}
	if !d.Allowed {
		return &exitError{code: exitForbidden, msg: domain.ErrForbiddenOperation.Message}
	}
	return nil
}

func printDecision(w io.Writer, d domain.PolicyDecision) {
	switch {
	case !d.Allowed:
		fmt.Fprintln(w, errStyle.Render("✗ forbidden"))
	case d.RequiresConfirmation:
		fmt.Fprintln(w, warnStyle.Render("! confirmation required"))
	default:
		fmt.Fprintln(w, okStyle.Render("✓ allowed"))
	}
	field(w, "Level", d.Level)
	field(w, "Operation ID", d.OperationID)
	if d.CycleRequired {
		field(w, "Cycle required", "yes")
	}
	if d.Message != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, d.Message)
	}
}
