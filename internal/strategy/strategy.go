// Package strategy learns retrieval and selection heuristics from execution
// feedback.
//
// Feedback events are appended to a JSON event log. Each event may create or
// strengthen rules (skill pairings, context limits, model overrides,
// anti-patterns). Rules gain confidence with evidence and lose it when left
// unused; a learned rule that decays to none is parked for review instead of
// being deleted. Rules are kept in a markdown file that carries both a
// readable table and the machine-readable data.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/logging"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// DefaultDecayWindow is the number of tasks a rule may go unapplied before
// its confidence drops one level.
const DefaultDecayWindow = 10

// Increment is how much one context_insufficient signal raises a tier.
var Increment = retrieval.Limits{Patterns: 2, Gotchas: 1, CodeRefs: 2, PriorTasks: 1}

// Ceiling is the hard upper bound on learned limits: twice the complex tier.
func Ceiling() retrieval.Limits {
	c := retrieval.DefaultLimits(retrieval.Complex)
	return c.Add(c)
}

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Config locates the strategy files.
type Config struct {
	Dir         string
	Project     string
	DecayWindow int
	Persist     persist.Options
}

// KnowledgeWriter receives a strategy node for every rule that changes.
type KnowledgeWriter interface {
	Update(ctx context.Context, fn func(tx *knowledge.Tx) error) error
}

type snapshot struct {
	events []Event
	rules  []Rule
	review []Rule
}

func (s *snapshot) clone() *snapshot {
	c := &snapshot{events: slices.Clone(s.events)}
	for _, r := range s.rules {
		c.rules = append(c.rules, r.clone())
	}
	for _, r := range s.review {
		c.review = append(c.review, r.clone())
	}
	return c
}

// Engine owns the rules and the event log.
type Engine struct {
	cfg       Config
	knowledge KnowledgeWriter
	log       *zap.Logger

	mu sync.RWMutex
	st *snapshot
}

// Open loads the event log and the rules from cfg.Dir. kw may be nil.
func Open(ctx context.Context, cfg Config, kw KnowledgeWriter, log *zap.Logger) (*Engine, error) {
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = DefaultDecayWindow
	}
	log = logging.OrNop(log)
	e := &Engine{cfg: cfg, knowledge: kw, log: log}

	events, err := e.loadEvents(ctx)
	if err != nil {
		return nil, err
	}
	rd, err := e.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	e.st = &snapshot{events: events, rules: rd.Rules, review: rd.NeedsReview}
	log.Debug("strategy loaded",
		zap.Int("events", len(events)),
		zap.Int("rules", len(rd.Rules)),
		zap.Int("needs_review", len(rd.NeedsReview)),
	)
	return e, nil
}

func (e *Engine) path(name string) string { return filepath.Join(e.cfg.Dir, name) }

// ─── Reads ──────────────────────────────────────────────────────────────────

// Rules returns the active rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.clone().rules
}

// NeedsReview returns the rules parked after decaying to none.
func (e *Engine) NeedsReview() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.clone().review
}

// Events returns the recorded feedback events, oldest first.
func (e *Engine) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.st.events)
}

// Counts returns the number of active rules per confidence level, plus the
// review set under "needs_review".
func (e *Engine) Counts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := map[string]int{}
	for _, r := range e.st.rules {
		out[string(r.Confidence)]++
	}
	out["needs_review"] = len(e.st.review)
	return out
}

// LimitRule returns the rule that sets the limits of tier c. Manual rules
// win over learned ones.
func (e *Engine) LimitRule(c retrieval.Complexity) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var found *Rule
	for i := range e.st.rules {
		r := &e.st.rules[i]
		if r.Kind != KindContextLimit || r.Complexity != c || r.Limits == nil || r.Confidence == ConfidenceNone {
			continue
		}
		if found == nil || (r.Source == SourceManual && found.Source != SourceManual) {
			found = r
		}
	}
	if found == nil {
		return Rule{}, false
	}
	return found.clone(), true
}

// Limits returns the context limits for tier c: the limit rule's if there is
// one, otherwise the defaults.
func (e *Engine) Limits(c retrieval.Complexity) retrieval.Limits {
	if r, ok := e.LimitRule(c); ok {
		return *r.Limits
	}
	return retrieval.DefaultLimits(c)
}

// AvoidModels returns the models recorded as inadequate for tier c.
func (e *Engine) AvoidModels(c retrieval.Complexity) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, r := range e.st.rules {
		if r.Kind == KindModelOverride && r.Complexity == c && r.Confidence != ConfidenceNone {
			out = append(out, r.Models...)
		}
	}
	return out
}

// RulesTable renders the active and review rules as markdown.
func (e *Engine) RulesTable() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return renderTable(e.st.rules, e.st.review)
}

// ─── Writes ─────────────────────────────────────────────────────────────────

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return name
		})
	})
	return validate
}

func validateEvent(ev *Event) error {
	err := validatorInstance().Struct(ev)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) || len(fes) == 0 {
		return errs.Invalid("event", "event", err.Error())
	}
	fe := fes[0]
	field := strings.TrimPrefix(fe.Namespace(), "Event.")
	switch fe.Tag() {
	case "oneof":
		return errs.Invalid("event", field, fmt.Sprintf("must be one of %s, got %q", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value()))
	default:
		return errs.Invalid("event", field, "required")
	}
}

// Record appends ev to the event log and updates the rules it bears on.
func (e *Engine) Record(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = timeNow().UTC()
	}
	ev.Skills = normSkills(ev.Skills)
	if ev.Complexity != "" {
		if cx, err := retrieval.ParseComplexity(string(ev.Complexity)); err == nil {
			ev.Complexity = cx
		}
	}
	if err := validateEvent(&ev); err != nil {
		return nil, fmt.Errorf("strategy: event rejected: %w", err)
	}
	if ev.Complexity == "" {
		ev.Complexity = retrieval.Normal
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if slices.ContainsFunc(e.st.events, func(x Event) bool { return x.ID == ev.ID }) {
		return nil, errs.Invalid("event", "id", fmt.Sprintf("duplicate id %q", ev.ID))
	}

	st := e.st.clone()
	st.events = append(st.events, ev)
	out := &Outcome{EventID: ev.ID}
	touched := map[string]bool{}

	for _, sig := range uniqueSignals(ev.Signals) {
		switch sig {
		case SignalBeneficialPairing:
			if len(ev.Skills) < 2 {
				continue
			}
			st.learn(Rule{Kind: KindSkillPairing, Skills: ev.Skills}, ev, out, touched, func(r *Rule) {
				r.EvidenceCount++
				r.Condition = "skills " + strings.Join(r.Skills, " + ") + " used together"
				r.Effect = "select " + strings.Join(r.Skills, " and ") + " together"
			})
		case SignalContextInsufficient:
			st.learn(Rule{Kind: KindContextLimit, Complexity: ev.Complexity}, ev, out, touched, func(r *Rule) {
				r.EvidenceCount++
				base := retrieval.DefaultLimits(r.Complexity)
				if r.Limits != nil {
					base = *r.Limits
				}
				raised := base.Add(Increment).Min(Ceiling())
				r.Limits = &raised
				r.Condition = fmt.Sprintf("complexity=%s and context was insufficient", r.Complexity)
				r.Effect = "raise limits to " + raised.String()
			})
		case SignalModelInadequate:
			st.learn(Rule{Kind: KindModelOverride, Complexity: ev.Complexity}, ev, out, touched, func(r *Rule) {
				r.EvidenceCount++
				if ev.Model != "" && !slices.Contains(r.Models, ev.Model) {
					r.Models = append(r.Models, ev.Model)
				}
				r.Condition = fmt.Sprintf("complexity=%s", r.Complexity)
				if len(r.Models) > 0 {
					r.Effect = "use a stronger model than " + strings.Join(r.Models, ", ")
				} else {
					r.Effect = "use a stronger model"
				}
			})
		default:
			n := countSignal(st.events, sig, ev.Skills)
			if n < 2 {
				continue
			}
			st.learn(Rule{Kind: KindAntiPattern, Signal: sig, Skills: ev.Skills}, ev, out, touched, func(r *Rule) {
				r.EvidenceCount = n
				with := "no skills"
				if len(r.Skills) > 0 {
					with = "skills " + strings.Join(r.Skills, ", ")
				}
				r.Condition = fmt.Sprintf("%s reported with %s", r.Signal, with)
				r.Effect = "avoid this combination"
			})
		}
	}

	st.decay(e.cfg.DecayWindow, touched, out)

	if err := e.save(ctx, st); err != nil {
		return nil, err
	}
	e.st = st
	e.mirror(ctx, out.Changed())

	e.log.Info("feedback recorded",
		zap.String("event", ev.ID),
		zap.String("task", ev.TaskID),
		zap.String("outcome", string(ev.Outcome)),
		zap.Int("rules_created", len(out.Created)),
		zap.Int("rules_updated", len(out.Updated)),
		zap.Int("rules_decayed", len(out.Decayed)),
	)
	return out, nil
}

// learn finds the rule for proto's situation, creating it if needed, and
// lets update apply the new evidence. A parked rule that gets new evidence
// is reinstated. Manual rules are never touched by learning.
func (st *snapshot) learn(proto Rule, ev Event, out *Outcome, touched map[string]bool, update func(*Rule)) {
	key := proto.key()
	match := func(r Rule) bool { return r.Source != SourceManual && r.key() == key }

	if i := slices.IndexFunc(st.review, match); i >= 0 {
		st.rules = append(st.rules, st.review[i])
		st.review = slices.Delete(st.review, i, i+1)
	}

	i := slices.IndexFunc(st.rules, match)
	created := i < 0
	if created {
		proto.ID = uuid.New().String()
		proto.Source = SourceLearned
		proto.CreatedAt = ev.Timestamp
		st.rules = append(st.rules, proto)
		i = len(st.rules) - 1
	}
	r := &st.rules[i]
	update(r)
	r.Confidence = FromEvidence(r.EvidenceCount)
	r.TasksSinceApplied = 0
	touched[r.ID] = true

	if created {
		out.Created = append(out.Created, r.clone())
	} else {
		out.Updated = append(out.Updated, r.clone())
	}
}

// decay advances the idle counter of every decaying rule the event did not
// touch. Rules idle for window tasks drop one level; rules at none move to
// the review set.
func (st *snapshot) decay(window int, touched map[string]bool, out *Outcome) {
	kept := st.rules[:0]
	for _, r := range st.rules {
		if !touched[r.ID] && r.Decays() {
			r.TasksSinceApplied++
			if r.TasksSinceApplied >= window {
				r.Confidence = r.Confidence.Lower()
				r.TasksSinceApplied = 0
				out.Decayed = append(out.Decayed, r.clone())
			}
		}
		if r.Confidence == ConfidenceNone {
			st.review = append(st.review, r)
			out.NeedsReview = append(out.NeedsReview, r.clone())
			continue
		}
		kept = append(kept, r)
	}
	st.rules = kept
}

// Apply marks the active rule id as applied now.
func (e *Engine) Apply(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.st.clone()
	i := slices.IndexFunc(st.rules, func(r Rule) bool { return r.ID == id })
	if i < 0 {
		return errs.NotFound("active rule", id)
	}
	now := timeNow().UTC()
	st.rules[i].LastAppliedAt = &now
	st.rules[i].TasksSinceApplied = 0

	if err := e.save(ctx, st); err != nil {
		return err
	}
	e.st = st
	return nil
}

// AddRule adds an authored rule. Manual rules start at high confidence and
// never decay; imported rules keep their confidence, or derive it from their
// evidence.
func (e *Engine) AddRule(ctx context.Context, r Rule) (Rule, error) {
	if !r.Kind.Valid() {
		return Rule{}, errs.Invalid("rule", "kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
	if strings.TrimSpace(r.Condition) == "" {
		return Rule{}, errs.Invalid("rule", "condition", "required")
	}
	if strings.TrimSpace(r.Effect) == "" {
		return Rule{}, errs.Invalid("rule", "effect", "required")
	}
	if r.Kind == KindContextLimit && r.Limits != nil {
		l := r.Limits.Min(Ceiling())
		r.Limits = &l
	}
	switch r.Source {
	case "", SourceManual:
		r.Source = SourceManual
		r.Confidence = ConfidenceHigh
	case SourceImported:
		if r.Confidence == "" {
			r.Confidence = FromEvidence(r.EvidenceCount)
		}
	default:
		return Rule{}, errs.Invalid("rule", "source", fmt.Sprintf("must be manual or imported, got %q", r.Source))
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = timeNow().UTC()
	}
	r.Skills = normSkills(r.Skills)

	e.mu.Lock()
	defer e.mu.Unlock()
	if slices.ContainsFunc(slices.Concat(e.st.rules, e.st.review), func(x Rule) bool { return x.ID == r.ID }) {
		return Rule{}, errs.Invalid("rule", "id", fmt.Sprintf("duplicate id %q", r.ID))
	}
	st := e.st.clone()
	st.rules = append(st.rules, r)
	if err := e.save(ctx, st); err != nil {
		return Rule{}, err
	}
	e.st = st
	e.mirror(ctx, []Rule{r})
	return r.clone(), nil
}

// mirror writes one strategy node per changed rule into the knowledge graph.
// The rules file stays authoritative, so a failure here is only logged.
func (e *Engine) mirror(ctx context.Context, rules []Rule) {
	if e.knowledge == nil || len(rules) == 0 {
		return
	}
	err := e.knowledge.Update(ctx, func(tx *knowledge.Tx) error {
		for _, r := range rules {
			n := StrategyNode(r)
			if _, ok := tx.Get(n.ID); ok {
				if err := tx.Update(n.ID, knowledge.NodePatch{Tags: n.Tags, Summary: &n.Summary, DetailRef: &n.DetailRef}); err != nil {
					return err
				}
				continue
			}
			if err := tx.Add(n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.log.Warn("mirroring strategy rules to knowledge failed", zap.Error(err))
	}
}

// StrategyNode is the knowledge node describing r. Its id depends only on
// the situation the rule is about.
func StrategyNode(r Rule) knowledge.Node {
	tags := []string{"strategy", string(r.Kind), "confidence-" + string(r.Confidence)}
	if r.Complexity != "" {
		tags = append(tags, string(r.Complexity))
	}
	if r.Signal != "" {
		tags = append(tags, string(r.Signal))
	}
	tags = append(tags, r.Skills...)
	return knowledge.Node{
		ID:        knowledge.DeriveID(knowledge.TypeStrategy, r.key(), string(r.Source)),
		Type:      knowledge.TypeStrategy,
		Tags:      tags,
		Summary:   knowledge.Truncate(r.Condition+": "+r.Effect, knowledge.MaxSummaryLen),
		DetailRef: RulesFile + "#" + r.ID,
		CreatedAt: r.CreatedAt,
	}
}

func uniqueSignals(sigs []Signal) []Signal {
	var out []Signal
	for _, s := range sigs {
		s = Signal(strings.ToLower(strings.TrimSpace(string(s))))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// countSignal counts the events reporting sig with exactly skills.
func countSignal(events []Event, sig Signal, skills []string) int {
	n := 0
	for _, ev := range events {
		if slices.Contains(uniqueSignals(ev.Signals), sig) && slices.Equal(normSkills(ev.Skills), skills) {
			n++
		}
	}
	return n
}
