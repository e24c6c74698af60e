package handoff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kenning/internal/errs"
)

const agentOutput = "I finished the login endpoint.\n\n" +
	"```go\nfunc main() {}\n```\n\n" +
	"```yaml\n" +
	`outcome: completed
summary: Login endpoint with JWT
files_created:
  - path: internal/auth/login.go
    purpose: login handler
    change_type: added
    lines: "1-80"
patterns_discovered:
  - pattern: Handlers return typed errors
    location: internal/auth/errors.go
    applies_to: [api, auth]
gotchas:
  - issue: Token clock skew
    mitigation: allow 30s leeway
    severity: medium
    applies_to: [auth]
dependencies_for_next:
  - file: internal/auth/login.go
    reason: reuse claims type
open_questions:
  - question: Refresh tokens?
    recommendation: later
    blocking: false
suggested_next_steps:
  - add logout
` + "```\n"

func TestParse_FencedBlock(t *testing.T) {
	r, err := Parse(agentOutput)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, r.Outcome)
	require.Len(t, r.FilesCreated, 1)
	assert.Equal(t, "login handler", r.FilesCreated[0].What())
	require.Len(t, r.Gotchas, 1)
	assert.Equal(t, SeverityMedium, r.Gotchas[0].Severity)
	assert.Equal(t, []string{"api", "auth"}, r.PatternsDiscovered[0].AppliesTo)
	assert.NoError(t, Validate(r))
}

func TestParse_SkipsFencesWithoutOutcome(t *testing.T) {
	text := "```yaml\nname: config\n```\n\n```yaml\noutcome: partial\nblockers:\n  - description: x\n```\n"
	r, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, r.Outcome)
}

func TestParse_HandoffSection(t *testing.T) {
	text := "# Report\n\nDone.\n\n## Handoff\n\noutcome: failed\nblockers:\n  - description: flaky CI\n    affected_tasks: [TASK-009]\n\n## Notes\n\nnothing\n"
	r, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, r.Outcome)
	require.Len(t, r.Blockers, 1)
	assert.Equal(t, []string{"TASK-009"}, r.Blockers[0].AffectedTasks)
}

func TestParse_WrappedAndBareDocuments(t *testing.T) {
	r, err := Parse("handoff:\n  outcome: completed\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, r.Outcome)

	r, err = Parse("outcome: blocked\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, r.Outcome)
}

func TestParse_NoHandoff(t *testing.T) {
	_, err := Parse("just prose, no record")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Equal(t, "outcome", errs.FieldOf(err))
}

func TestParse_MalformedRecord(t *testing.T) {
	_, err := Parse("outcome: completed\ngotchas: not-a-list\n")
	require.Error(t, err)
	assert.Equal(t, "handoff", errs.FieldOf(err))
}

func TestMarshal_RoundTrip(t *testing.T) {
	r, err := Parse(agentOutput)
	require.NoError(t, err)
	data, err := Marshal(r)
	require.NoError(t, err)
	back, err := Parse(string(data))
	require.NoError(t, err)
	assert.Equal(t, r, back)
}
