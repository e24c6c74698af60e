package strategy_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/retrieval"
	"github.com/HendryAvila/kenning/internal/strategy"
)

func newTestEngine(t *testing.T, dir string, kw strategy.KnowledgeWriter) *strategy.Engine {
	t.Helper()
	e, err := strategy.Open(context.Background(), strategy.Config{
		Dir:     dir,
		Project: "demo",
		Persist: persist.DefaultOptions(),
	}, kw, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func record(t *testing.T, e *strategy.Engine, ev strategy.Event) *strategy.Outcome {
	t.Helper()
	if ev.TaskID == "" {
		ev.TaskID = "TASK-1"
	}
	if ev.Outcome == "" {
		ev.Outcome = handoff.OutcomeCompleted
	}
	out, err := e.Record(context.Background(), ev)
	require.NoError(t, err)
	return out
}

func TestFromEvidence(t *testing.T) {
	tests := []struct {
		n    int
		want strategy.Confidence
	}{
		{0, strategy.ConfidenceNone},
		{1, strategy.ConfidenceLow},
		{2, strategy.ConfidenceLow},
		{3, strategy.ConfidenceMedium},
		{5, strategy.ConfidenceMedium},
		{6, strategy.ConfidenceHigh},
		{40, strategy.ConfidenceHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, strategy.FromEvidence(tt.n), "evidence %d", tt.n)
	}
	assert.Equal(t, strategy.ConfidenceMedium, strategy.ConfidenceHigh.Lower())
	assert.Equal(t, strategy.ConfidenceNone, strategy.ConfidenceNone.Lower())
}

func TestContextInsufficient_RaisesLimitsUpToCeiling(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	ev := strategy.Event{
		Outcome:    handoff.OutcomePartial,
		Signals:    []strategy.Signal{strategy.SignalContextInsufficient},
		Complexity: retrieval.Complex,
	}

	out := record(t, e, ev)
	require.Len(t, out.Created, 1)
	assert.Equal(t, strategy.KindContextLimit, out.Created[0].Kind)
	assert.Equal(t, retrieval.Limits{Patterns: 12, Gotchas: 6, CodeRefs: 22, PriorTasks: 9}, e.Limits(retrieval.Complex))
	assert.Equal(t, retrieval.DefaultLimits(retrieval.Easy), e.Limits(retrieval.Easy), "other tiers untouched")

	for range 20 {
		record(t, e, ev)
	}
	assert.Equal(t, strategy.Ceiling(), e.Limits(retrieval.Complex))
	assert.Equal(t, retrieval.Limits{Patterns: 20, Gotchas: 10, CodeRefs: 40, PriorTasks: 16}, strategy.Ceiling())

	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, 21, rules[0].EvidenceCount)
	assert.Equal(t, strategy.ConfidenceHigh, rules[0].Confidence)
}

func TestBeneficialPairing(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"sql", "API"}})
	record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"api", "sql"}})
	out := record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"sql", "api"}})

	require.Len(t, out.Updated, 1)
	r := out.Updated[0]
	assert.Equal(t, strategy.KindSkillPairing, r.Kind)
	assert.Equal(t, []string{"api", "sql"}, r.Skills)
	assert.Equal(t, 3, r.EvidenceCount)
	assert.Equal(t, strategy.ConfidenceMedium, r.Confidence)

	out = record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"solo"}})
	assert.Empty(t, out.Changed(), "a pairing needs two skills")
}

func TestAntiPattern_NeedsRepetition(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	ev := strategy.Event{
		Outcome: handoff.OutcomeFailed,
		Signals: []strategy.Signal{strategy.SignalSkillMismatch},
		Skills:  []string{"frontend"},
	}
	out := record(t, e, ev)
	assert.Empty(t, out.Created, "a single failure is not a pattern")

	out = record(t, e, ev)
	require.Len(t, out.Created, 1)
	r := out.Created[0]
	assert.Equal(t, strategy.KindAntiPattern, r.Kind)
	assert.Equal(t, strategy.SignalSkillMismatch, r.Signal)
	assert.Equal(t, 2, r.EvidenceCount)
	assert.Equal(t, strategy.ConfidenceLow, r.Confidence)

	other := ev
	other.Skills = []string{"backend"}
	out = record(t, e, other)
	assert.Empty(t, out.Created, "different skills are a different situation")
}

func TestModelOverride(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	ev := strategy.Event{
		Outcome:    handoff.OutcomeFailed,
		Signals:    []strategy.Signal{strategy.SignalModelInadequate},
		Complexity: retrieval.Complex,
		Model:      "small-1",
	}
	record(t, e, ev)
	ev.Model = "small-2"
	record(t, e, ev)

	assert.Equal(t, []string{"small-1", "small-2"}, e.AvoidModels(retrieval.Complex))
	assert.Empty(t, e.AvoidModels(retrieval.Easy))
}

func TestDecay_MovesToReviewAndRevives(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	pair := strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"a", "b"}}
	record(t, e, pair)

	for i := range 9 {
		out := record(t, e, strategy.Event{})
		assert.Empty(t, out.Decayed, "no decay after %d idle tasks", i+1)
	}
	require.Len(t, e.Rules(), 1)
	assert.Equal(t, 9, e.Rules()[0].TasksSinceApplied)

	out := record(t, e, strategy.Event{})
	require.Len(t, out.Decayed, 1)
	require.Len(t, out.NeedsReview, 1)
	assert.Empty(t, e.Rules())
	require.Len(t, e.NeedsReview(), 1, "decayed rules are parked, not deleted")
	assert.Contains(t, e.RulesTable(), "## Needs Review")

	out = record(t, e, pair)
	require.Len(t, out.Updated, 1)
	assert.Equal(t, 2, out.Updated[0].EvidenceCount)
	assert.Empty(t, e.NeedsReview())
	assert.Len(t, e.Rules(), 1)
}

func TestManualRules(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	manual, err := e.AddRule(context.Background(), strategy.Rule{
		Kind:       strategy.KindContextLimit,
		Condition:  "complexity=easy",
		Effect:     "tiny context",
		Complexity: retrieval.Easy,
		Limits:     &retrieval.Limits{Patterns: 1, Gotchas: 1, CodeRefs: 1, PriorTasks: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ConfidenceHigh, manual.Confidence)
	assert.Equal(t, strategy.SourceManual, manual.Source)

	record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalContextInsufficient}, Complexity: retrieval.Easy})
	for range 25 {
		record(t, e, strategy.Event{})
	}

	rules := e.Rules()
	var got strategy.Rule
	for _, r := range rules {
		if r.ID == manual.ID {
			got = r
		}
	}
	assert.Equal(t, strategy.ConfidenceHigh, got.Confidence, "manual rules never decay")
	assert.Equal(t, retrieval.Limits{Patterns: 1, Gotchas: 1, CodeRefs: 1, PriorTasks: 1}, e.Limits(retrieval.Easy), "manual beats learned")
}

func TestAddRule_Rejects(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	_, err := e.AddRule(context.Background(), strategy.Rule{Kind: "bogus", Condition: "c", Effect: "e"})
	assert.Equal(t, "kind", errs.FieldOf(err))
	_, err = e.AddRule(context.Background(), strategy.Rule{Kind: strategy.KindSkillExclusion, Effect: "e"})
	assert.Equal(t, "condition", errs.FieldOf(err))
	_, err = e.AddRule(context.Background(), strategy.Rule{Kind: strategy.KindSkillExclusion, Condition: "c", Effect: "e", Source: strategy.SourceLearned})
	assert.Equal(t, "source", errs.FieldOf(err))
}

func TestApply(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	out := record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"a", "b"}})
	id := out.Created[0].ID
	for range 5 {
		record(t, e, strategy.Event{})
	}

	require.NoError(t, e.Apply(context.Background(), id))
	r := e.Rules()[0]
	assert.Zero(t, r.TasksSinceApplied)
	assert.NotNil(t, r.LastAppliedAt)

	assert.ErrorIs(t, e.Apply(context.Background(), "missing"), errs.ErrNotFound)
}

func TestRecord_Rejects(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)

	_, err := e.Record(context.Background(), strategy.Event{Outcome: handoff.OutcomeCompleted})
	assert.Equal(t, "task_id", errs.FieldOf(err))

	_, err = e.Record(context.Background(), strategy.Event{TaskID: "T", Outcome: "great"})
	assert.Equal(t, "outcome", errs.FieldOf(err))

	_, err = e.Record(context.Background(), strategy.Event{TaskID: "T", Outcome: handoff.OutcomeCompleted, Complexity: "huge"})
	assert.Equal(t, "complexity", errs.FieldOf(err))

	ev := strategy.Event{ID: "fixed", TaskID: "T", Outcome: handoff.OutcomeCompleted}
	_, err = e.Record(context.Background(), ev)
	require.NoError(t, err)
	_, err = e.Record(context.Background(), ev)
	assert.Equal(t, "id", errs.FieldOf(err))
	assert.Len(t, e.Events(), 1)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir, nil)
	record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"a", "b"}})
	record(t, e, strategy.Event{Signals: []strategy.Signal{strategy.SignalContextInsufficient}, Complexity: retrieval.Normal})

	raw, err := os.ReadFile(filepath.Join(dir, strategy.EventsFile))
	require.NoError(t, err)
	var log struct {
		Version string            `json:"version"`
		Project string            `json:"project"`
		Events  []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &log))
	assert.Equal(t, strategy.EventLogVersion, log.Version)
	assert.Equal(t, "demo", log.Project)
	assert.Len(t, log.Events, 2)

	md, err := os.ReadFile(filepath.Join(dir, strategy.RulesFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Strategy Rules"))
	assert.Contains(t, string(md), "| skill_pairing |")

	reopened := newTestEngine(t, dir, nil)
	assert.Equal(t, e.Rules(), reopened.Rules())
	assert.Len(t, reopened.Events(), 2)
	assert.Equal(t, e.Limits(retrieval.Normal), reopened.Limits(retrieval.Normal))
}

func TestOpen_CorruptRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, strategy.RulesFile), []byte("# Strategy Rules\n"), 0o644))
	_, err := strategy.Open(context.Background(), strategy.Config{Dir: dir}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrIOCorrupt)
}

func TestMirrorsRulesIntoKnowledge(t *testing.T) {
	dir := t.TempDir()
	store, err := knowledge.Open(context.Background(),
		knowledge.NewJSONBackend(filepath.Join(dir, knowledge.GraphFile), persist.DefaultOptions()))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, dir, store)
	pair := strategy.Event{Signals: []strategy.Signal{strategy.SignalBeneficialPairing}, Skills: []string{"a", "b"}}
	record(t, e, pair)
	record(t, e, pair)
	record(t, e, pair)

	nodes := store.ByType(knowledge.TypeStrategy)
	require.Len(t, nodes, 1, "one node per rule, updated in place")
	assert.True(t, nodes[0].HasTag("skill_pairing"))
	assert.True(t, nodes[0].HasTag("confidence-medium"))
	assert.False(t, nodes[0].HasTag("confidence-low"))
}
