package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handoffText = "```yaml\n" + `outcome: completed
summary: Login endpoint
patterns_discovered:
  - pattern: Handlers return typed errors
    location: internal/auth/errors.go
    applies_to: [api, auth]
dependencies_for_next:
  - file: internal/auth/login.go
    reason: reuse claims type
` + "```\n"

const queueText = `# Task Queue

### TASK-001: Add login endpoint

**Category:** auth
**Description:** Users log in through the api.

### TASK-002: Add logout

**Depends On:** TASK-001
**Description:** Invalidate the auth session through the api.
`

// run executes the CLI against dir and returns what it printed.
func run(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", dir, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestDir(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task_queue.md"), []byte(queueText), 0o644))
	return dir
}

func TestVersion(t *testing.T) {
	out, err := run(t, newTestDir(t), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "kenning vdev\n", out)
}

func TestIngestThenContext(t *testing.T) {
	dir := newTestDir(t)

	out, err := run(t, dir, handoffText, "ingest", "TASK-001")
	require.NoError(t, err)
	assert.Contains(t, out, "TASK-001: accepted (completed)")
	assert.Contains(t, out, "next: internal/auth/login.go")

	out, err = run(t, dir, "", "context", "task-002")
	require.NoError(t, err)
	assert.Contains(t, out, "Handlers return typed errors")
	assert.Contains(t, out, "tokens")
}

func TestIngest_FromFile(t *testing.T) {
	dir := newTestDir(t)
	path := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, os.WriteFile(path, []byte(handoffText), 0o644))

	out, err := run(t, dir, "", "ingest", "TASK-001", path)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted")
}

func TestIngest_Rejected(t *testing.T) {
	_, err := run(t, newTestDir(t), "```yaml\noutcome: blocked\n```\n", "ingest", "TASK-002", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "blockers"`)
}

func TestContext_UnknownTaskNeedsObjective(t *testing.T) {
	dir := newTestDir(t)

	_, err := run(t, dir, "", "context", "TASK-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--objective")

	_, err = run(t, dir, "", "context", "TASK-404", "--objective", "Add rate limiting to the api", "--complexity", "easy")
	require.NoError(t, err)
}

func TestPrompt_MetadataOnly(t *testing.T) {
	dir := newTestDir(t)
	skill := filepath.Join(t.TempDir(), "go-api.md")
	require.NoError(t, os.WriteFile(skill, []byte("Write handlers with typed errors."), 0o644))

	out, err := run(t, dir, "", "prompt", "TASK-002", "--skill", skill, "--metadata-only")
	require.NoError(t, err)
	assert.Contains(t, out, "cache_key: ")
	assert.Contains(t, out, "skills: go-api\n")

	full, err := run(t, dir, "", "prompt", "TASK-002", "--skill", skill)
	require.NoError(t, err)
	assert.Contains(t, full, "Write handlers with typed errors.")
	assert.Contains(t, full, "# Task TASK-002")
}

func TestFeedbackAndRules(t *testing.T) {
	dir := newTestDir(t)

	out, err := run(t, dir, "", "feedback", "TASK-001", "--outcome", "completed")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "event "), out)

	_, err = run(t, dir, "", "feedback", "TASK-001", "--outcome", "exploded")
	require.Error(t, err)

	out, err = run(t, dir, "", "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "# Strategy Rules")
}

func TestConsolidate_Empty(t *testing.T) {
	out, err := run(t, newTestDir(t), "", "consolidate")
	require.NoError(t, err)
	assert.Contains(t, out, "nodes created: 0")
}

func TestExportImport(t *testing.T) {
	src := newTestDir(t)
	_, err := run(t, src, handoffText, "ingest", "TASK-001")
	require.NoError(t, err)

	exported, err := run(t, src, "", "export")
	require.NoError(t, err)
	assert.Contains(t, exported, "Handlers return typed errors")

	dst := t.TempDir()
	out, err := run(t, dst, exported, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported ")

	again, err := run(t, dst, exported, "import")
	require.NoError(t, err)
	assert.Contains(t, again, "imported 0 of ")
}

func TestContext_LowercaseDeps(t *testing.T) {
	dir := newTestDir(t)
	_, err := run(t, dir, handoffText, "ingest", "TASK-001")
	require.NoError(t, err)

	out, err := run(t, dir, "", "context", "TASK-404", "--objective", "Add logout", "--deps", "task-001", "--detail", "full")
	require.NoError(t, err)
	assert.NotContains(t, out, "pending dependencies")
	assert.Contains(t, out, "Handlers return typed errors")
}
