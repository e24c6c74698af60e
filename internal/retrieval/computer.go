// Package retrieval computes the minimal context slice an agent needs for a
// task.
//
// The pipeline runs in five stages: signal extraction, a knowledge query
// partitioned by node type, dependency context from archived handoffs, a
// scored file reference map, and assembly under the complexity limits. The
// knowledge query and the dependency stage are independent readers and run
// concurrently.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/signals"
	"github.com/HendryAvila/kenning/internal/state"
)

// KnowledgeReader is the query side of the knowledge store.
type KnowledgeReader interface {
	QueryByTags(tags []string, limit int) []knowledge.Scored
}

// HandoffReader gives access to accepted handoff records.
type HandoffReader interface {
	Load(ctx context.Context, taskID string) (*handoff.Archived, error)
	List(ctx context.Context) ([]handoff.Archived, error)
	Ref(taskID, field string) string
}

// CompletionChecker decides whether a dependency task is done.
type CompletionChecker interface {
	Completed(ctx context.Context, taskID string) bool
}

// SessionReader exposes the parts of the session state retrieval reads.
type SessionReader interface {
	Hot() state.Session
	ActiveBlockers() []state.Blocker
}

// LimitSource supplies per-tier limits, typically learned ones.
type LimitSource interface {
	Limits(c Complexity) Limits
}

// Option configures a Computer.
type Option func(*Computer)

// WithExtractor replaces the default TokenExtractor.
func WithExtractor(e signals.Extractor) Option { return func(c *Computer) { c.extractor = e } }

// WithTaxonomy sets the taxonomy used to match references to domains.
func WithTaxonomy(t *signals.Taxonomy) Option { return func(c *Computer) { c.taxonomy = t } }

// WithLimits makes the computer take its limits from src.
func WithLimits(src LimitSource) Option { return func(c *Computer) { c.limits = src } }

// WithSession adds quick refs and active blockers from the session state.
func WithSession(s SessionReader) Option { return func(c *Computer) { c.session = s } }

// WithCompletion sets how dependency completion is decided. By default a
// dependency is complete when its archived handoff has outcome completed.
func WithCompletion(cc CompletionChecker) Option { return func(c *Computer) { c.completion = cc } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Computer) { c.log = l } }

// Computer runs the retrieval pipeline. It only reads; it is safe for
// concurrent use.
type Computer struct {
	knowledge  KnowledgeReader
	handoffs   HandoffReader
	extractor  signals.Extractor
	taxonomy   *signals.Taxonomy
	limits     LimitSource
	session    SessionReader
	completion CompletionChecker
	log        *zap.Logger

	group singleflight.Group
}

// NewComputer creates a Computer over kb and the handoff archive h.
func NewComputer(kb KnowledgeReader, h HandoffReader, opts ...Option) *Computer {
	c := &Computer{knowledge: kb, handoffs: h, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	if c.taxonomy == nil {
		c.taxonomy = signals.MustTaxonomy(signals.DefaultDomains)
	}
	if c.extractor == nil {
		c.extractor = signals.NewTokenExtractor(c.taxonomy)
	}
	return c
}

// Limits returns the limits applied to tier cx.
func (c *Computer) Limits(cx Complexity) Limits {
	if c.limits != nil {
		return c.limits.Limits(cx)
	}
	return DefaultLimits(cx)
}

// Compute runs the pipeline for t. Identical concurrent calls share one
// computation and one result. The shared computation outlives any single
// caller; a caller whose ctx ends stops waiting without failing the others.
func (c *Computer) Compute(ctx context.Context, t Task) (*ComputedContext, error) {
	ch := c.group.DoChan(t.key(), func() (any, error) {
		return c.compute(context.WithoutCancel(ctx), t)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ComputedContext), nil
	}
}

func (c *Computer) compute(ctx context.Context, t Task) (*ComputedContext, error) {
	if strings.TrimSpace(t.Objective) == "" {
		return nil, errs.Invalid("task", "objective", "required")
	}
	cx, err := ParseComplexity(string(t.Complexity))
	if err != nil {
		return nil, err
	}

	// 1. Signals.
	sig := c.extractor.Extract(t.Text())
	tags := sig.Tags()
	for _, f := range sig.Files {
		tags = appendUnique(tags, handoff.PathTags(f)...)
	}

	// 2 + 3. Knowledge and dependencies, concurrently.
	var (
		kn   knowledgeSlice
		deps dependencyContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kn = c.queryKnowledge(t, tags)
		return nil
	})
	g.Go(func() error {
		var err error
		deps, err = c.dependencies(gctx, t, tags)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval: task %s: %w", t.ID, err)
	}

	// 4. Reference map.
	refs, err := c.references(ctx, sig, deps)
	if err != nil {
		return nil, fmt.Errorf("retrieval: task %s: reference map: %w", t.ID, err)
	}

	// 5. Assembly and limits.
	lim := c.Limits(cx)
	patterns := merge(kn.patterns, deps.patterns)
	warnings := merge(kn.gotchas, deps.gotchas)
	prior := merge(deps.tasks, kn.tasks)

	out := &ComputedContext{
		TaskID:            t.ID,
		Complexity:        cx,
		PatternsToFollow:  truncate(patterns, lim.Patterns),
		Warnings:          truncate(warnings, lim.Gotchas),
		RelevantDecisions: kn.decisions,
		PriorWork:         truncate(prior, lim.PriorTasks),
		CodeReferences:    truncate(refs, lim.CodeRefs),
		BlockingQuestions: deps.questions,
		ActiveBlockers:    c.blockers(t),
		Debug: Debug{
			Signals:      sig,
			QueryTags:    tags,
			NodesMatched: kn.matched,
			Candidates: map[string]int{
				"patterns":   len(patterns),
				"gotchas":    len(warnings),
				"decisions":  len(kn.decisions),
				"prior_work": len(prior),
				"code_refs":  len(refs),
			},
			Limits:              lim,
			PendingDependencies: deps.pending,
		},
	}
	c.log.Debug("context computed",
		zap.String("task", t.ID),
		zap.String("complexity", string(cx)),
		zap.Strings("tags", tags),
		zap.Int("matched", kn.matched),
	)
	return out, nil
}

// ─── Stage 2: knowledge ─────────────────────────────────────────────────────

type knowledgeSlice struct {
	patterns, gotchas, decisions, tasks []Item
	matched                             int
}

func (c *Computer) queryKnowledge(t Task, tags []string) knowledgeSlice {
	var ks knowledgeSlice
	if len(tags) == 0 {
		return ks
	}
	own := handoff.TaskNodeID(t.ID)
	hits := c.knowledge.QueryByTags(tags, 0)
	ks.matched = len(hits)
	for _, h := range hits {
		it := Item{ID: h.Node.ID, Summary: h.Node.Summary, Ref: h.Node.DetailRef, Score: h.Score}
		switch h.Node.Type {
		case knowledge.TypePattern:
			if len(ks.patterns) < MaxKnowledgePatterns {
				ks.patterns = append(ks.patterns, it)
			}
		case knowledge.TypeGotcha:
			if len(ks.gotchas) < MaxKnowledgeGotchas {
				it.Severity = severityOf(h.Node)
				ks.gotchas = append(ks.gotchas, it)
			}
		case knowledge.TypeDecision:
			if len(ks.decisions) < MaxKnowledgeDecisions {
				ks.decisions = append(ks.decisions, it)
			}
		case knowledge.TypeTask:
			if h.Node.ID != own && len(ks.tasks) < MaxRelatedTasks {
				ks.tasks = append(ks.tasks, it)
			}
		}
	}
	return ks
}

func severityOf(n knowledge.Node) string {
	for _, s := range []handoff.Severity{handoff.SeverityHigh, handoff.SeverityMedium, handoff.SeverityLow} {
		if n.HasTag("severity-" + string(s)) {
			return string(s)
		}
	}
	return ""
}

// ─── Stage 3: dependencies ──────────────────────────────────────────────────

type dependencyContext struct {
	patterns, gotchas, tasks []Item
	files                    []reference
	questions                []Question
	pending                  []string
}

func (c *Computer) dependencies(ctx context.Context, t Task, tags []string) (dependencyContext, error) {
	var dc dependencyContext
	seen := map[string]bool{}
	for _, dep := range t.Dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] || dep == t.ID {
			continue
		}
		seen[dep] = true
		if err := ctx.Err(); err != nil {
			return dc, err
		}

		if c.completion != nil && !c.completion.Completed(ctx, dep) {
			dc.pending = append(dc.pending, dep)
			continue
		}
		arch, err := c.handoffs.Load(ctx, dep)
		if errors.Is(err, errs.ErrNotFound) {
			if c.completion == nil {
				dc.pending = append(dc.pending, dep)
			}
			continue
		}
		if err != nil {
			return dc, fmt.Errorf("dependency %s: %w", dep, err)
		}
		r := arch.Record
		if c.completion == nil && r.Outcome != handoff.OutcomeCompleted {
			dc.pending = append(dc.pending, dep)
			continue
		}
		c.fromRecord(&dc, dep, &r, tags)
	}
	return dc, nil
}

// fromRecord pulls what a downstream task needs out of dep's record. Items
// get the node ids ingestion gave them so they merge with knowledge hits.
func (c *Computer) fromRecord(dc *dependencyContext, dep string, r *handoff.Record, tags []string) {
	// A direct dependency outranks any tag match.
	direct := len(tags) + 1

	summary := r.Summary
	if summary == "" {
		summary = fmt.Sprintf("%s %s", dep, r.Outcome)
	}
	dc.tasks = append(dc.tasks, Item{
		ID:       handoff.TaskNodeID(dep),
		Summary:  knowledge.Truncate(summary, knowledge.MaxSummaryLen),
		Ref:      c.handoffs.Ref(dep, ""),
		FromTask: dep,
		Score:    direct,
	})

	for i, p := range r.PatternsDiscovered {
		ref := p.Location
		if ref == "" {
			ref = c.handoffs.Ref(dep, fmt.Sprintf("patterns_discovered[%d]", i))
		}
		summary := knowledge.Truncate(strings.TrimSpace(p.Pattern), knowledge.MaxSummaryLen)
		dc.patterns = append(dc.patterns, Item{
			ID:       knowledge.DeriveID(knowledge.TypePattern, summary, ref),
			Summary:  summary,
			Ref:      ref,
			FromTask: dep,
			Score:    overlap(handoff.AppliesToTags(p.AppliesTo), tags) + 1,
		})
	}

	for i, g := range r.Gotchas {
		if g.Severity == handoff.SeverityLow {
			continue
		}
		ref := c.handoffs.Ref(dep, fmt.Sprintf("gotchas[%d]", i))
		summary := knowledge.Truncate(strings.TrimSpace(g.Issue), knowledge.MaxSummaryLen)
		if g.Mitigation != "" {
			summary = knowledge.Truncate(summary+": "+g.Mitigation, knowledge.MaxSummaryLen)
		}
		dc.gotchas = append(dc.gotchas, Item{
			ID:       knowledge.DeriveID(knowledge.TypeGotcha, knowledge.Truncate(strings.TrimSpace(g.Issue), knowledge.MaxSummaryLen), ref),
			Summary:  summary,
			Ref:      ref,
			Severity: string(g.Severity),
			FromTask: dep,
			Score:    overlap(handoff.AppliesToTags(g.AppliesTo), tags) + 1,
		})
	}

	for _, d := range r.DependenciesForNext {
		dc.files = append(dc.files, reference{path: d.File, reason: d.Reason, fromTask: dep, mentioned: true})
	}

	for _, q := range r.BlockingQuestions() {
		dc.questions = append(dc.questions, Question{Question: q.Question, Recommendation: q.Recommendation, FromTask: dep})
	}
}

// ─── Stage 4: reference map ─────────────────────────────────────────────────

func (c *Computer) references(ctx context.Context, sig signals.Signals, deps dependencyContext) ([]CodeRef, error) {
	m := newReferenceMap()
	for _, f := range sig.Files {
		m.add(reference{path: f, reason: "mentioned by the task", mentioned: true})
	}
	for _, r := range deps.files {
		m.add(r)
	}
	if c.session != nil {
		for _, q := range c.session.Hot().QuickRefs {
			m.add(reference{path: q.File, reason: q.Note})
		}
	}
	archived, err := c.handoffs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range archived {
		for _, f := range slices.Concat(a.Record.FilesCreated, a.Record.FilesModified) {
			m.add(reference{path: f.Path, reason: f.What(), fromTask: a.TaskID})
		}
	}
	return m.rank(sig, c.taxonomy, MaxReferences), nil
}

// ─── Assembly ───────────────────────────────────────────────────────────────

func (c *Computer) blockers(t Task) []Item {
	if c.session == nil || t.ID == "" {
		return nil
	}
	var out []Item
	for _, b := range c.session.ActiveBlockers() {
		if !slices.Contains(b.AffectedTasks, t.ID) {
			continue
		}
		out = append(out, Item{
			ID:       b.ID,
			Summary:  knowledge.Truncate(b.Description, knowledge.MaxSummaryLen),
			FromTask: b.TaskID,
		})
	}
	return out
}

// merge concatenates lists, drops repeated ids keeping the best score, and
// orders by score. Equal scores keep their input order.
func merge(lists ...[]Item) []Item {
	var out []Item
	at := map[string]int{}
	for _, list := range lists {
		for _, it := range list {
			if i, ok := at[it.ID]; ok {
				if it.Score > out[i].Score {
					out[i].Score = it.Score
				}
				continue
			}
			at[it.ID] = len(out)
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, func(a, b Item) int { return cmp.Compare(b.Score, a.Score) })
	return out
}

// truncate keeps the first n entries of an already ordered list.
func truncate[T any](list []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(list) > n {
		return list[:n:n]
	}
	return list
}

func overlap(a, b []string) int {
	n := 0
	for _, x := range a {
		if slices.Contains(b, x) {
			n++
		}
	}
	return n
}

func appendUnique(dst []string, vs ...string) []string {
	for _, v := range vs {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
