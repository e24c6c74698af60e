package retrieval_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/retrieval"
	"github.com/HendryAvila/kenning/internal/state"
)

type env struct {
	store   *knowledge.Store
	archive *handoff.Archive
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	store, err := knowledge.Open(context.Background(),
		knowledge.NewJSONBackend(filepath.Join(dir, knowledge.GraphFile), persist.DefaultOptions()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &env{store: store, archive: handoff.NewArchive(filepath.Join(dir, handoff.ArchiveDir), persist.DefaultOptions())}
}

func (e *env) addPattern(t *testing.T, id string, created time.Time, tags ...string) {
	t.Helper()
	require.NoError(t, e.store.AddNode(context.Background(), knowledge.Node{
		ID: id, Type: knowledge.TypePattern, Tags: tags, Summary: "pattern " + id, CreatedAt: created,
	}))
}

func (e *env) ingest(t *testing.T, taskID string, r *handoff.Record) {
	t.Helper()
	_, err := handoff.NewIngester(e.store, nil, e.archive, nil).Ingest(context.Background(), taskID, r, nil)
	require.NoError(t, err)
}

func ids(items []retrieval.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestCompute_LimitEnforcement(t *testing.T) {
	e := newEnv(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.addPattern(t, "p1", base, "auth", "login", "token", "session")
	e.addPattern(t, "p2", base, "auth", "login", "token")
	e.addPattern(t, "p3", base, "auth", "login")
	for i := 4; i <= 8; i++ {
		e.addPattern(t, fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Minute), "auth", "other")
	}
	c := retrieval.NewComputer(e.store, e.archive)
	ctx := context.Background()
	objective := "Fix auth login token session handling"

	hard, err := c.Compute(ctx, retrieval.Task{ID: "TASK-100", Objective: objective, Complexity: retrieval.Complex})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hard.PatternsToFollow), 10)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(hard.PatternsToFollow[:3]))

	easy, err := c.Compute(ctx, retrieval.Task{ID: "TASK-101", Objective: objective, Complexity: retrieval.Easy})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(easy.PatternsToFollow))
	assert.Equal(t, 8, e.store.Len(), "limits never touch the library")
}

func TestCompute_DependencyContext(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "TASK-001", &handoff.Record{
		Outcome: handoff.OutcomeCompleted,
		Summary: "Login endpoint",
		FilesCreated: []handoff.FileChange{
			{Path: "internal/auth/login.go", Purpose: "login handler"},
		},
		PatternsDiscovered: []handoff.Pattern{
			{Pattern: "Handlers return typed errors", Location: "internal/auth/errors.go", AppliesTo: []string{"auth"}},
		},
		Gotchas: []handoff.Gotcha{
			{Issue: "Token clock skew", Mitigation: "30s leeway", Severity: handoff.SeverityHigh, AppliesTo: []string{"auth"}},
			{Issue: "Typo in docs", Severity: handoff.SeverityLow, AppliesTo: []string{"readme"}},
		},
		DependenciesForNext: []handoff.Dependency{{File: "internal/auth/claims.go", Reason: "claims struct"}},
		OpenQuestions: []handoff.OpenQuestion{
			{Question: "Refresh tokens?", Recommendation: "later", Blocking: true},
			{Question: "Rename package?"},
		},
	})

	c := retrieval.NewComputer(e.store, e.archive)
	cc, err := c.Compute(context.Background(), retrieval.Task{
		ID:           "TASK-002",
		Objective:    "Add logout endpoint for auth",
		Dependencies: []string{"TASK-001"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, cc.PriorWork)
	assert.Equal(t, handoff.TaskNodeID("TASK-001"), cc.PriorWork[0].ID)

	require.Len(t, cc.BlockingQuestions, 1)
	assert.Equal(t, "Refresh tokens?", cc.BlockingQuestions[0].Question)
	assert.Equal(t, "TASK-001", cc.BlockingQuestions[0].FromTask)

	require.Len(t, cc.Warnings, 1, "low severity gotchas are left out; the knowledge copy merges by id")
	assert.Equal(t, "high", cc.Warnings[0].Severity)

	require.Len(t, cc.PatternsToFollow, 1)
	assert.Equal(t, "internal/auth/errors.go", cc.PatternsToFollow[0].Ref)

	var paths []string
	for _, r := range cc.CodeReferences {
		paths = append(paths, r.Path)
	}
	assert.Contains(t, paths, "internal/auth/claims.go")
	assert.Equal(t, "internal/auth/claims.go", cc.CodeReferences[0].Path, "handed-over files rank first")
	assert.Empty(t, cc.Debug.PendingDependencies)
}

func TestCompute_PendingDependency(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "TASK-001", &handoff.Record{
		Outcome:  handoff.OutcomePartial,
		Blockers: []handoff.Blocker{{Description: "quota"}},
	})
	c := retrieval.NewComputer(e.store, e.archive)

	cc, err := c.Compute(context.Background(), retrieval.Task{
		ID: "TASK-002", Objective: "Continue", Dependencies: []string{"TASK-001", "TASK-404"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TASK-001", "TASK-404"}, cc.Debug.PendingDependencies)
	assert.Empty(t, cc.BlockingQuestions)
}

type doneSet map[string]bool

func (d doneSet) Completed(_ context.Context, id string) bool { return d[id] }

func TestCompute_CompletionChecker(t *testing.T) {
	e := newEnv(t)
	c := retrieval.NewComputer(e.store, e.archive, retrieval.WithCompletion(doneSet{"TASK-001": true}))

	cc, err := c.Compute(context.Background(), retrieval.Task{
		ID: "TASK-003", Objective: "Build on it", Dependencies: []string{"TASK-001", "TASK-002"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TASK-002"}, cc.Debug.PendingDependencies, "a marker without a handoff is complete but adds nothing")
	assert.Empty(t, cc.PriorWork)
}

type fixedLimits retrieval.Limits

func (f fixedLimits) Limits(retrieval.Complexity) retrieval.Limits { return retrieval.Limits(f) }

func TestCompute_LimitSource(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	e.addPattern(t, "a", now, "database")
	e.addPattern(t, "b", now, "database")
	c := retrieval.NewComputer(e.store, e.archive, retrieval.WithLimits(fixedLimits{Patterns: 1}))

	cc, err := c.Compute(context.Background(), retrieval.Task{ID: "T", Objective: "database work"})
	require.NoError(t, err)
	assert.Len(t, cc.PatternsToFollow, 1)
	assert.Equal(t, retrieval.Limits{Patterns: 1}, cc.Debug.Limits)
}

type session struct {
	hot      state.Session
	blockers []state.Blocker
}

func (s session) Hot() state.Session              { return s.hot }
func (s session) ActiveBlockers() []state.Blocker { return s.blockers }

func TestCompute_SessionInputs(t *testing.T) {
	e := newEnv(t)
	s := session{
		hot: state.Session{QuickRefs: []state.QuickRef{{File: "web/login_form.tsx", Note: "login form"}}},
		blockers: []state.Blocker{
			{ID: "b1", Description: "staging down", AffectedTasks: []string{"TASK-007"}},
			{ID: "b2", Description: "other", AffectedTasks: []string{"TASK-008"}},
		},
	}
	c := retrieval.NewComputer(e.store, e.archive, retrieval.WithSession(s))

	cc, err := c.Compute(context.Background(), retrieval.Task{ID: "TASK-007", Objective: "Polish the login form"})
	require.NoError(t, err)
	require.Len(t, cc.ActiveBlockers, 1)
	assert.Equal(t, "b1", cc.ActiveBlockers[0].ID)
	require.Len(t, cc.CodeReferences, 1)
	assert.Equal(t, "web/login_form.tsx", cc.CodeReferences[0].Path)
}

func TestCompute_Rejects(t *testing.T) {
	e := newEnv(t)
	c := retrieval.NewComputer(e.store, e.archive)

	_, err := c.Compute(context.Background(), retrieval.Task{ID: "T"})
	assert.Equal(t, "objective", errs.FieldOf(err))

	_, err = c.Compute(context.Background(), retrieval.Task{ID: "T", Objective: "x", Complexity: "huge"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, "complexity", errs.FieldOf(err))
}

func TestCompute_ConcurrentCallers(t *testing.T) {
	e := newEnv(t)
	e.addPattern(t, "p", time.Now(), "cache")
	c := retrieval.NewComputer(e.store, e.archive)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cc, err := c.Compute(context.Background(), retrieval.Task{ID: "T", Objective: "tune the cache"})
			assert.NoError(t, err)
			assert.Len(t, cc.PatternsToFollow, 1)
		}()
	}
	wg.Wait()
}

// gatedCompletion holds every dependency check until release is closed.
type gatedCompletion struct {
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (g *gatedCompletion) Completed(context.Context, string) bool {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return true
}

func TestCompute_CanceledCallerDoesNotFailOthers(t *testing.T) {
	e := newEnv(t)
	e.addPattern(t, "p", time.Now(), "cache")
	e.ingest(t, "T1", &handoff.Record{Outcome: handoff.OutcomeCompleted, Summary: "cache layer"})

	gate := &gatedCompletion{entered: make(chan struct{}), release: make(chan struct{})}
	c := retrieval.NewComputer(e.store, e.archive, retrieval.WithCompletion(gate))
	task := retrieval.Task{ID: "T2", Objective: "tune the cache", Dependencies: []string{"T1"}}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Compute(ctxA, task)
		errA <- err
	}()
	<-gate.entered

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	type result struct {
		cc  *retrieval.ComputedContext
		err error
	}
	resB := make(chan result, 1)
	go func() {
		cc, err := c.Compute(context.Background(), task)
		resB <- result{cc, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.cc.PatternsToFollow, 1)
}

func TestParseComplexity(t *testing.T) {
	for in, want := range map[string]retrieval.Complexity{
		"": retrieval.Normal, "easy": retrieval.Easy, " Complex ": retrieval.Complex,
	} {
		got, err := retrieval.ParseComplexity(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDefaultLimits(t *testing.T) {
	assert.Equal(t, retrieval.Limits{Patterns: 3, Gotchas: 2, CodeRefs: 5, PriorTasks: 2}, retrieval.DefaultLimits(retrieval.Easy))
	assert.Equal(t, retrieval.Limits{Patterns: 5, Gotchas: 3, CodeRefs: 10, PriorTasks: 4}, retrieval.DefaultLimits(retrieval.Normal))
	assert.Equal(t, retrieval.Limits{Patterns: 10, Gotchas: 5, CodeRefs: 20, PriorTasks: 8}, retrieval.DefaultLimits(retrieval.Complex))
	assert.Equal(t, retrieval.DefaultLimits(retrieval.Normal), retrieval.DefaultLimits("unknown"))
}
