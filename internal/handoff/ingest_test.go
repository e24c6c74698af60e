package handoff_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/state"
)

type fixture struct {
	dir      string
	store    *knowledge.Store
	state    *state.Manager
	archive  *handoff.Archive
	ingester *handoff.Ingester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := knowledge.Open(ctx, knowledge.NewJSONBackend(filepath.Join(dir, knowledge.GraphFile), persist.DefaultOptions()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := state.Open(ctx, state.DefaultConfig(dir), store, zaptest.NewLogger(t))
	require.NoError(t, err)

	archive := handoff.NewArchive(filepath.Join(dir, handoff.ArchiveDir), persist.DefaultOptions())
	return &fixture{
		dir:      dir,
		store:    store,
		state:    mgr,
		archive:  archive,
		ingester: handoff.NewIngester(store, mgr, archive, zaptest.NewLogger(t)),
	}
}

func completedRecord() *handoff.Record {
	return &handoff.Record{
		Outcome: handoff.OutcomeCompleted,
		Summary: "Login endpoint",
		FilesCreated: []handoff.FileChange{
			{Path: "internal/auth/login.go", Purpose: "handler"},
		},
		PatternsDiscovered: []handoff.Pattern{
			{Pattern: "Handlers return typed errors", Location: "internal/auth/errors.go", AppliesTo: []string{"api, auth"}},
		},
		Gotchas: []handoff.Gotcha{
			{Issue: "Token clock skew", Mitigation: "30s leeway", Severity: handoff.SeverityHigh, AppliesTo: []string{"auth"}},
		},
		DependenciesForNext: []handoff.Dependency{{File: "internal/auth/login.go", Reason: "claims"}},
		SuggestedNextSteps:  []string{"add logout"},
	}
}

func TestIngest_Completed(t *testing.T) {
	f := newFixture(t)
	res, err := f.ingester.Ingest(context.Background(), "TASK-001", completedRecord(), []string{"backend"})
	require.NoError(t, err)

	assert.Len(t, res.NodesCreated, 3, "task node + pattern + gotcha")
	assert.Equal(t, []string{"add logout"}, res.SuggestedNextSteps)
	require.Len(t, res.DependenciesForNext, 1)

	task, err := f.store.Get(handoff.TaskNodeID("TASK-001"))
	require.NoError(t, err)
	assert.Len(t, task.Connections, 2)
	assert.True(t, task.HasTag("auth"))
	assert.True(t, task.HasTag("login"), "file path tags")
	assert.True(t, task.HasTag("backend"), "task tags")

	hits := f.store.QueryByTags([]string{"auth"}, 0)
	assert.Len(t, hits, 3)

	arch, err := f.archive.Load(context.Background(), "TASK-001")
	require.NoError(t, err)
	assert.Equal(t, "TASK-001", arch.TaskID)
	assert.True(t, f.archive.Completed(context.Background(), "TASK-001"))
}

func TestIngest_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingester.Ingest(ctx, "TASK-001", completedRecord(), nil)
	require.NoError(t, err)
	n := f.store.Len()

	res, err := f.ingester.Ingest(ctx, "TASK-001", completedRecord(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.NodesCreated)
	assert.Equal(t, n, f.store.Len())
}

func TestIngest_RetryRefreshesTaskNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blocked := &handoff.Record{
		Outcome:  handoff.OutcomeBlocked,
		Summary:  "Waiting on schema",
		Blockers: []handoff.Blocker{{Description: "schema not merged"}},
	}
	_, err := f.ingester.Ingest(ctx, "TASK-001", blocked, nil)
	require.NoError(t, err)

	res, err := f.ingester.Ingest(ctx, "TASK-001", completedRecord(), nil)
	require.NoError(t, err)
	assert.NotContains(t, res.NodesCreated, handoff.TaskNodeID("TASK-001"))

	task, err := f.store.Get(handoff.TaskNodeID("TASK-001"))
	require.NoError(t, err)
	assert.Equal(t, "Login endpoint", task.Summary)
	assert.True(t, task.HasTag("outcome-completed"))
	assert.False(t, task.HasTag("outcome-blocked"))
	assert.True(t, task.HasTag("login"), "file path tags")
	assert.True(t, task.HasTag("auth"), "applies_to tags")
	assert.Len(t, task.Connections, 2)

	hits := f.store.QueryByTags([]string{"outcome-blocked"}, 0)
	assert.Empty(t, hits)
}

func TestIngest_FailedRetryRestoresTaskNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingester.Ingest(ctx, "TASK-006", completedRecord(), nil)
	require.NoError(t, err)

	ing := handoff.NewIngester(f.store, failingSink{}, f.archive, zaptest.NewLogger(t))
	partial := &handoff.Record{
		Outcome:  handoff.OutcomePartial,
		Summary:  "Half done",
		Blockers: []handoff.Blocker{{Description: "quota"}},
	}
	_, err = ing.Ingest(ctx, "TASK-006", partial, nil)
	require.ErrorIs(t, err, errs.ErrIOTimeout)

	task, err := f.store.Get(handoff.TaskNodeID("TASK-006"))
	require.NoError(t, err)
	assert.Equal(t, "Login endpoint", task.Summary)
	assert.True(t, task.HasTag("outcome-completed"))
	assert.False(t, task.HasTag("outcome-partial"))
}

func TestIngest_BlockedWithoutBlockersHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	r := completedRecord()
	r.Outcome = handoff.OutcomeBlocked

	_, err := f.ingester.Ingest(context.Background(), "TASK-002", r, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Equal(t, "blockers", errs.FieldOf(err))
	assert.EqualError(t, err, `task TASK-002: handoff rejected: field "blockers": required when outcome is blocked`)

	assert.Zero(t, f.store.Len(), "no knowledge node may be created")
	_, statErr := os.Stat(f.archive.Path("TASK-002"))
	assert.True(t, os.IsNotExist(statErr), "rejected record must not be archived")
	assert.Empty(t, f.state.ActiveBlockers())
}

func TestIngest_ForwardsBlockers(t *testing.T) {
	f := newFixture(t)
	r := &handoff.Record{
		Outcome:  handoff.OutcomeBlocked,
		Blockers: []handoff.Blocker{{Description: "no staging db", AffectedTasks: []string{"TASK-004"}}},
	}
	res, err := f.ingester.Ingest(context.Background(), "TASK-003", r, nil)
	require.NoError(t, err)
	require.Len(t, res.BlockerIDs, 1)

	active := f.state.ActiveBlockers()
	require.Len(t, active, 1)
	assert.Equal(t, "TASK-003", active[0].TaskID)
	assert.Equal(t, []string{"TASK-004"}, active[0].AffectedTasks)
	assert.False(t, f.archive.Completed(context.Background(), "TASK-003"))
}

type failingSink struct{}

func (failingSink) AddBlockers(context.Context, []state.Blocker) ([]string, error) {
	return nil, errs.ErrIOTimeout
}

func TestIngest_RollsBackWhenLaterStepFails(t *testing.T) {
	f := newFixture(t)
	ing := handoff.NewIngester(f.store, failingSink{}, f.archive, zaptest.NewLogger(t))

	r := completedRecord()
	r.Outcome = handoff.OutcomePartial
	r.Blockers = []handoff.Blocker{{Description: "quota"}}

	_, err := ing.Ingest(context.Background(), "TASK-005", r, nil)
	require.ErrorIs(t, err, errs.ErrIOTimeout)

	assert.Zero(t, f.store.Len(), "created nodes must be removed")
	_, statErr := os.Stat(f.archive.Path("TASK-005"))
	assert.True(t, os.IsNotExist(statErr), "archive entry must be removed")
}

func TestIngest_NilLoggerOnFailurePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingester.Ingest(ctx, "TASK-007", completedRecord(), nil)
	require.NoError(t, err)

	ing := handoff.NewIngester(f.store, failingSink{}, f.archive, nil)
	r := &handoff.Record{Outcome: handoff.OutcomeBlocked, Blockers: []handoff.Blocker{{Description: "quota"}}}
	assert.NotPanics(t, func() {
		_, err = ing.Ingest(ctx, "TASK-007", r, nil)
	})
	assert.ErrorIs(t, err, errs.ErrIOTimeout)
}

func TestIngest_RejectsBadTaskID(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingester.Ingest(context.Background(), "../etc/passwd", completedRecord(), nil)
	assert.Equal(t, "task_id", errs.FieldOf(err))
}

func TestIngestText(t *testing.T) {
	f := newFixture(t)
	text := "Work done.\n\n```yaml\noutcome: completed\nsummary: ok\n```\n"
	res, err := f.ingester.IngestText(context.Background(), "TASK-006", text, nil)
	require.NoError(t, err)
	assert.Equal(t, handoff.OutcomeCompleted, res.Outcome)
}

func TestArchive_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"TASK-010", "TASK-002"} {
		_, err := f.ingester.Ingest(ctx, id, &handoff.Record{Outcome: handoff.OutcomeCompleted}, nil)
		require.NoError(t, err)
	}
	list, err := f.archive.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "TASK-002", list[0].TaskID)

	_, err = f.archive.Load(ctx, "TASK-999")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPathTags(t *testing.T) {
	assert.Equal(t, []string{"internal", "auth", "login"}, handoff.PathTags("internal/auth/login.go"))
	assert.Equal(t, []string{"api", "auth"}, handoff.AppliesToTags([]string{"API, auth"}))
}
