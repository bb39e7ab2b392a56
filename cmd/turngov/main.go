// Package main is the entry point for the turngov CLI and API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/audit"
	"github.com/Rogers-F/turngov/internal/config"
	"github.com/Rogers-F/turngov/internal/guard"
	"github.com/Rogers-F/turngov/internal/logging"
	"github.com/Rogers-F/turngov/internal/metrics"
	"github.com/Rogers-F/turngov/internal/policy"
	"github.com/Rogers-F/turngov/internal/store"
	"github.com/Rogers-F/turngov/internal/tracker"
	"github.com/Rogers-F/turngov/internal/vcs"
	"github.com/Rogers-F/turngov/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	os.Exit(execute(rootCmd, os.Args[1:]))
}

// execute runs root with args and returns the process exit code. An
// exitError's outcome is already printed by its command; any other error
// is written to the command's error stream.
func execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "turngov",
	Short: "Governance engine for turn-based coding agents",
	Long: `turngov validates agent turn documents, tracks tasks through the
FETCH → INV → ANA → PLAN → BUILD → VERIF → REL phases, and gates
filesystem and command operations against a safety policy.`,
	Version:       fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to turngov.yaml (default: $TURNGOV_CONFIG or ./turngov.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.AddCommand(serveCmd, validateCmd, checkCmd, phaseCmd, guardsCmd)
}

// resolveConfig picks --config, then TURNGOV_CONFIG, then turngov.yaml in
// the working directory. No file at all means defaults plus environment.
func resolveConfig() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("TURNGOV_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("turngov.yaml"); err == nil {
		return "turngov.yaml"
	}
	return ""
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(resolveConfig())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newPipeline(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *guard.Pipeline {
	g := cfg.Guards
	return guard.New(
		guard.WithLogger(logger.Named("guard")),
		guard.WithMetrics(m),
		guard.WithDiffProvider(vcs.NewRepo(g.RepoDir)),
		guard.WithDefaultRole(g.Role),
		guard.WithRoleRestrictions(g.RoleRestrictions),
		guard.WithLimits(guard.Limits{
			MinThinkWords: g.MinThinkWords,
			MaxThinkWords: g.MaxThinkWords,
			MaxPatchLines: g.MaxPatchLines,
			MaxPatchFiles: g.MaxPatchFiles,
			DiffTimeout:   g.DiffTimeout,
		}),
	)
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return store.NewDB(cfg.DBPath)
}

func newEngine(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger, m *metrics.Metrics) (*workflow.Engine, error) {
	engine := workflow.NewEngine(db)
	engine.Logger = logger.Named("workflow")
	engine.Metrics = m
	if cfg.TrackerEnabled() {
		gh, err := tracker.NewGitHub(ctx, tracker.GitHubConfig{
			Token:             cfg.Tracker.GitHubToken,
			Owner:             cfg.Tracker.Owner,
			Repo:              cfg.Tracker.Repo,
			RequestsPerSecond: cfg.Tracker.RequestsPerSecond,
			Timeout:           cfg.Tracker.Timeout,
		}, logger.Named("tracker"))
		if err != nil {
			return nil, err
		}
		engine.Tracker = gh
		engine.TrackerTimeout = cfg.Tracker.Timeout
	}
	return engine, nil
}

// newPolicy loads the rule set and builds the audit sinks: the JSONL
// directory always, SQLite when enabled. The returned close func releases
// the JSONL files.
func newPolicy(cfg *config.Config, db *sql.DB, logger *zap.Logger, m *metrics.Metrics) (*policy.Guard, func() error, error) {
	rules, err := policy.LoadRulesOrDefault(cfg.Policy.RulesPath, cfg.Policy.Degraded)
	if err != nil {
		return nil, nil, err
	}

	fr, err := audit.NewFileRecorder(cfg.Audit.Dir)
	if err != nil {
		return nil, nil, err
	}
	sinks := audit.Fanout{fr}
	if cfg.Audit.SQLite && db != nil {
		sinks = append(sinks, store.NewRecorder(db))
	}

	tr := policy.NewCycleTracker(cfg.Cycle.Retention, nil, policy.WithCycleIdleTimeout(cfg.Cycle.IdleTimeout))
	g := policy.NewGuard(rules, sinks,
		policy.WithLogger(logger.Named("policy")),
		policy.WithMetrics(m),
		policy.WithCycleTracker(tr),
	)
	return g, fr.Close, nil
}
