package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/audit"
	"github.com/Rogers-F/turngov/internal/config"
	"github.com/Rogers-F/turngov/internal/domain"
)

// isolate runs the CLI in an empty directory with the built-in rule set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TURNGOV_CONFIG", "")
	t.Setenv("TURNGOV_POLICY_DEGRADED", "true")
	t.Setenv("TURNGOV_LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	code = execute(rootCmd, args)
	return code, out.String(), errOut.String()
}

func TestExecute_ReportsCommandErrors(t *testing.T) {
	isolate(t)

	code, _, stderr := runCLI(t, "phase", "transition", "nope", "INV")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stderr, "Error: "), stderr)
	assert.Contains(t, stderr, domain.ErrFlowNotFound.Message)
}

func TestExecute_ReportsConfigErrors(t *testing.T) {
	isolate(t)
	t.Setenv("TURNGOV_LOG_LEVEL", "loud")

	code, stdout, stderr := runCLI(t, "check", "read", "README.md")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "log.level")
}

func TestExecute_ExitErrorPrintsOnce(t *testing.T) {
	isolate(t)

	code, stdout, stderr := runCLI(t, "phase", "check", "FETCH", "BUILD")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Phase skip detected")
	assert.Empty(t, stderr)
}

func TestCheck_ForbiddenWritesViolationByDefault(t *testing.T) {
	dir := isolate(t)

	code, stdout, _ := runCLI(t, "check", "delete", "package.json")
	assert.Equal(t, exitForbidden, code)
	assert.Contains(t, stdout, "forbidden")

	f, err := os.Open(filepath.Join(dir, config.DefaultAuditDir, audit.ViolationsFile))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan(), "violation log is empty")
	var v domain.Violation
	require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
	assert.True(t, strings.HasPrefix(v.Violation, "Forbidden pattern: "), v.Violation)
	assert.Equal(t, "package.json", v.Context["target"])
	assert.Equal(t, domain.ConsequenceBlocked, v.Consequence)
	assert.False(t, sc.Scan(), "expected exactly one violation")
}
