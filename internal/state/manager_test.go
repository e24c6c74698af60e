package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/state"
)

type fixture struct {
	dir   string
	store *knowledge.Store
	mgr   *state.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := knowledge.Open(context.Background(),
		knowledge.NewJSONBackend(filepath.Join(dir, knowledge.GraphFile), persist.DefaultOptions()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{dir: dir, store: store}
	f.mgr = f.reopen(t)
	return f
}

func (f *fixture) reopen(t *testing.T) *state.Manager {
	t.Helper()
	cfg := state.DefaultConfig(f.dir)
	cfg.MaxWorkingMemory = 4
	cfg.MaxQuickRefs = 2
	cfg.MaxWaiting = 2
	m, err := state.Open(context.Background(), cfg, f.store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_FreshDirectory(t *testing.T) {
	f := newFixture(t)
	hot := f.mgr.Hot()
	assert.NotEmpty(t, hot.SessionID)
	assert.Empty(t, hot.WorkingMemory)
	assert.Zero(t, f.mgr.Cold().SessionHistory.Len())
}

func TestOpen_CorruptColdMemoryIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, state.ColdFile), []byte("key_decisions: [unterminated"), 0o644))

	_, err := state.Open(context.Background(), state.DefaultConfig(dir), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIOCorrupt)
}

func TestOpen_CorruptHotStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, state.HotFile), []byte(":\n  - ["), 0o644))

	m, err := state.Open(context.Background(), state.DefaultConfig(dir), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, m.Hot().SessionID)
}

func TestHotState_ResumesAcrossOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.StartTask(ctx, "TASK-001", "add login", "implement"))
	require.NoError(t, f.mgr.AddImmediateTask(ctx, "write handler"))

	resumed := f.reopen(t).Hot()
	assert.Equal(t, "TASK-001", resumed.CurrentContext.ActiveTaskID)
	assert.Equal(t, f.mgr.Hot().SessionID, resumed.SessionID)
	require.Len(t, resumed.ImmediateTasks, 1)
}

// ─── Mutators ───────────────────────────────────────────────────────────────

func TestMutators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mgr

	require.NoError(t, m.AddImmediateTask(ctx, "a"))
	require.NoError(t, m.ToggleTask(ctx, 0))
	assert.True(t, m.Hot().ImmediateTasks[0].Done)
	assert.ErrorIs(t, m.ToggleTask(ctx, 5), errs.ErrNotFound)

	require.NoError(t, m.AddWaiting(ctx, "api key"))
	require.NoError(t, m.AddWaiting(ctx, "api key"))
	assert.Len(t, m.Hot().WaitingFor, 1)
	require.NoError(t, m.ResolveWaiting(ctx, "api key"))
	assert.Empty(t, m.Hot().WaitingFor)
	assert.ErrorIs(t, m.ResolveWaiting(ctx, "api key"), errs.ErrNotFound)

	require.NoError(t, m.AddQuickRef(ctx, "a.go", "one"))
	require.NoError(t, m.AddQuickRef(ctx, "a.go", "two"))
	refs := m.Hot().QuickRefs
	require.Len(t, refs, 1)
	assert.Equal(t, "two", refs[0].Note)

	err := m.RecordAttempt(ctx, state.Attempt{Hypothesis: "h"})
	assert.Equal(t, "tried", errs.FieldOf(err))
}

func TestHotState_Caps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mgr

	require.NoError(t, m.RecordDiscovery(ctx, state.Discovery{Kind: state.DiscoveryPattern, Summary: "keep me"}))
	for i := 0; i < 6; i++ {
		require.NoError(t, m.RecordAttempt(ctx, state.Attempt{Tried: "attempt", Result: string(rune('a' + i))}))
	}
	wm := m.Hot().WorkingMemory
	require.Len(t, wm, 4)
	assert.NotNil(t, wm[0].Discovery, "discoveries outlive plain attempts")
	assert.Equal(t, "f", wm[3].Result)

	for _, file := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddQuickRef(ctx, file, ""))
	}
	refs := m.Hot().QuickRefs
	require.Len(t, refs, 2)
	assert.Equal(t, "b", refs[0].File)
}

func TestCompleteTask_ClearsTaskScopedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mgr

	require.NoError(t, m.StartTask(ctx, "TASK-002", "obj", "build"))
	require.NoError(t, m.AddImmediateTask(ctx, "x"))
	require.NoError(t, m.AddWaiting(ctx, "review"))
	require.NoError(t, m.RecordAttempt(ctx, state.Attempt{Tried: "t"}))
	require.NoError(t, m.RecordDiscovery(ctx, state.Discovery{Kind: state.DiscoveryGotcha, Summary: "g"}))

	require.NoError(t, m.CompleteTask(ctx, "done"))

	hot := m.Hot()
	assert.Empty(t, hot.CurrentContext.ActiveTaskID)
	assert.Empty(t, hot.ImmediateTasks)
	assert.Empty(t, hot.WaitingFor)
	require.Len(t, hot.WorkingMemory, 1)
	assert.Equal(t, "TASK-002", hot.WorkingMemory[0].TaskID)

	history := m.Cold().SessionHistory.All()
	require.Len(t, history, 1)
	assert.Equal(t, "TASK-002", history[0].TaskID)

	assert.ErrorIs(t, m.CompleteTask(ctx, "again"), errs.ErrNotFound)
}

// ─── Cold memory ────────────────────────────────────────────────────────────

func TestBlockers_ResolveAppendsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mgr

	id, err := m.AddBlocker(ctx, state.Blocker{Description: "no db creds", AffectedTasks: []string{"TASK-003"}})
	require.NoError(t, err)
	require.Len(t, m.ActiveBlockers(), 1)

	require.NoError(t, m.ResolveBlocker(ctx, id, "creds added"))
	assert.Empty(t, m.ActiveBlockers())
	assert.ErrorIs(t, m.ResolveBlocker(ctx, id, "again"), errs.ErrNotFound)

	cold := f.reopen(t).Cold()
	assert.Equal(t, 1, cold.Blockers.Active.Len(), "raised blockers are never removed")
	assert.Equal(t, 1, cold.Blockers.Historical.Len())
	assert.Empty(t, cold.Blockers.Open())
}

func TestColdMemory_OnlyGrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mgr

	require.NoError(t, m.SetUnderstanding(ctx, "v1"))
	require.NoError(t, m.SetUnderstanding(ctx, "v2"))
	require.NoError(t, m.SetPreference(ctx, "style", "terse"))
	require.NoError(t, m.SetPreference(ctx, "style", "verbose"))
	require.NoError(t, m.AddDecision(ctx, state.Decision{Summary: "use sqlite"}))
	require.NoError(t, m.AddDecision(ctx, state.Decision{Summary: "use sqlite"}))
	require.NoError(t, m.AddStrategyNote(ctx, "prefer small tasks"))

	cold := f.reopen(t).Cold()
	assert.Equal(t, "v2", cold.Understanding())
	assert.Equal(t, 2, cold.ProjectUnderstanding.Len())
	assert.Equal(t, "verbose", cold.Preferences()["style"])
	assert.Equal(t, 1, cold.KeyDecisions.Len())
	assert.Equal(t, 1, cold.StrategyNotes.Len())
}

// ─── Consolidation ──────────────────────────────────────────────────────────

func recordDiscoveries(t *testing.T, m *state.Manager) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "TASK-007", "cache layer", "implement"))
	for _, d := range []state.Discovery{
		{Kind: state.DiscoveryPattern, Summary: "Repository wraps all SQL", Location: "internal/db/repo.go", Tags: []string{"database"}},
		{Kind: state.DiscoveryGotcha, Summary: "WAL needs busy_timeout", Location: "internal/db/open.go"},
		{Kind: state.DiscoveryDecision, Summary: "Use LRU eviction"},
	} {
		require.NoError(t, m.RecordDiscovery(ctx, d))
	}
	require.NoError(t, m.RecordAttempt(ctx, state.Attempt{Tried: "benchmark", Result: "ok"}))
}

func TestConsolidate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recordDiscoveries(t, f.mgr)
	res, err := f.mgr.Consolidate(ctx)
	require.NoError(t, err)
	assert.Len(t, res.NodesCreated, 3)
	first := f.store.Len()

	// Same working-memory set again.
	recordDiscoveries(t, f.mgr)
	res, err = f.mgr.Consolidate(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.NodesCreated)
	assert.Equal(t, 3, res.NodesExisting)
	assert.Equal(t, first, f.store.Len())

	cold := f.mgr.Cold()
	assert.Equal(t, 1, cold.LearnedContext.Patterns.Len())
	assert.Equal(t, 1, cold.LearnedContext.Gotchas.Len())
	assert.Equal(t, 1, cold.KeyDecisions.Len())
	assert.Equal(t, 2, cold.SessionHistory.Len())
}

func TestConsolidate_ResetsHotState(t *testing.T) {
	f := newFixture(t)
	recordDiscoveries(t, f.mgr)
	before := f.mgr.Hot().SessionID

	_, err := f.mgr.Consolidate(context.Background())
	require.NoError(t, err)

	hot := f.mgr.Hot()
	assert.Empty(t, hot.WorkingMemory)
	assert.Empty(t, hot.CurrentContext.ActiveTaskID)
	assert.NotEqual(t, before, hot.SessionID)
}

func TestConsolidate_NodesCarryTaskTags(t *testing.T) {
	f := newFixture(t)
	recordDiscoveries(t, f.mgr)
	_, err := f.mgr.Consolidate(context.Background())
	require.NoError(t, err)

	hits := f.store.QueryByTags([]string{"task-007"}, 0)
	assert.Len(t, hits, 3)
	n, ok := f.store.Find("Repository wraps all SQL", "internal/db/repo.go")
	require.True(t, ok)
	assert.Equal(t, knowledge.TypePattern, n.Type)
	assert.True(t, n.HasTag("database"))
}

func TestDiscoveryNodeID_Stable(t *testing.T) {
	d := state.Discovery{Kind: state.DiscoveryGotcha, Summary: "x", Location: "y"}
	assert.Equal(t, state.DiscoveryNodeID(d), state.DiscoveryNodeID(d))
	d2 := d
	d2.Location = "z"
	assert.NotEqual(t, state.DiscoveryNodeID(d), state.DiscoveryNodeID(d2))
}
