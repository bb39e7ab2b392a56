package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "turngov.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/turngov/state.db
listen_addr: ":9900"
log:
  level: debug
  format: console
policy:
  rules_path: /etc/turngov/policy.yaml
audit:
  dir: /var/log/turngov
  sqlite: true
http:
  allowed_origins: ["http://localhost:5173"]
guards:
  role: review
  max_patch_lines: 500
  diff_timeout: 2s
  role_restrictions:
    review: [src/]
cycle:
  retention: 10m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/turngov/state.db", cfg.DBPath)
	assert.Equal(t, ":9900", cfg.ListenAddr)
	assert.Equal(t, LogConfig{Level: "debug", Format: "console"}, cfg.Log)
	assert.Equal(t, "/etc/turngov/policy.yaml", cfg.Policy.RulesPath)
	assert.True(t, cfg.Audit.SQLite)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "review", cfg.Guards.Role)
	assert.Equal(t, 500, cfg.Guards.MaxPatchLines)
	assert.Equal(t, 2*time.Second, cfg.Guards.DiffTimeout)
	assert.Equal(t, map[string][]string{"review": {"src/"}}, cfg.Guards.RoleRestrictions)
	assert.Equal(t, 10*time.Minute, cfg.Cycle.Retention)
	assert.Equal(t, time.Minute, cfg.Cycle.SweepInterval)
	assert.False(t, cfg.TrackerEnabled())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TURN_ROLE", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "turngov.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:9810", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "policy.yaml", cfg.Policy.RulesPath)
	assert.Equal(t, DefaultAuditDir, cfg.Audit.Dir)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "dev", cfg.Guards.Role)
	assert.Equal(t, 5*time.Minute, cfg.Cycle.Retention)
	assert.Equal(t, 30*time.Minute, cfg.Cycle.IdleTimeout)
	assert.Equal(t, float64(5), cfg.Tracker.RequestsPerSecond)
	assert.Equal(t, 10*time.Second, cfg.Tracker.Timeout)
}

func TestLoad_RoleFromTurnRoleEnv(t *testing.T) {
	t.Setenv("TURN_ROLE", "qa")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "qa", cfg.Guards.Role)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "db_path: from-file.db\npolicy:\n  rules_path: file.yaml\n")
	t.Setenv("TURNGOV_DB_PATH", "from-env.db")
	t.Setenv("TURNGOV_POLICY_RULES_PATH", "env.yaml")
	t.Setenv("TURNGOV_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, "env.yaml", cfg.Policy.RulesPath)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "log: [unclosed"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoad_ValidationCollectsProblems(t *testing.T) {
	path := writeConfig(t, `
log:
  level: loud
  format: xml
guards:
  min_think_words: 50
  max_think_words: 10
tracker:
  github_token: secret
`)
	_, err := Load(path)
	require.Error(t, err)

	var ee *domain.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, domain.ErrConfigInvalid.Code, ee.Code)
	assert.Contains(t, ee.Message, `log.level "loud"`)
	assert.Contains(t, ee.Message, `log.format "xml"`)
	assert.Contains(t, ee.Message, "min_think_words must not exceed")
	assert.Contains(t, ee.Message, "tracker.owner and tracker.repo are required")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "db_path", envKey("TURNGOV_DB_PATH"))
	assert.Equal(t, "listen_addr", envKey("TURNGOV_LISTEN_ADDR"))
	assert.Equal(t, "guards.max_patch_lines", envKey("TURNGOV_GUARDS_MAX_PATCH_LINES"))
	assert.Equal(t, "tracker.github_token", envKey("TURNGOV_TRACKER_GITHUB_TOKEN"))
}
