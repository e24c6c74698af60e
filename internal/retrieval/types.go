package retrieval

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/signals"
)

// Complexity is the size tier of a task. It selects the context limits.
type Complexity string

// Complexity tiers.
const (
	Easy    Complexity = "easy"
	Normal  Complexity = "normal"
	Complex Complexity = "complex"
)

// Complexities returns every tier, smallest first.
func Complexities() []Complexity { return []Complexity{Easy, Normal, Complex} }

// ParseComplexity normalizes s. Empty means Normal.
func ParseComplexity(s string) (Complexity, error) {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Normal, nil
	case Easy, Normal, Complex:
		return c, nil
	}
	return "", errs.Invalid("task", "complexity", fmt.Sprintf("must be one of easy, normal, complex, got %q", s))
}

// Limits caps the lists of a ComputedContext.
type Limits struct {
	Patterns   int `json:"patterns" yaml:"patterns"`
	Gotchas    int `json:"gotchas" yaml:"gotchas"`
	CodeRefs   int `json:"code_refs" yaml:"code_refs"`
	PriorTasks int `json:"prior_tasks" yaml:"prior_tasks"`
}

// Add returns l raised by d.
func (l Limits) Add(d Limits) Limits {
	return Limits{
		Patterns:   l.Patterns + d.Patterns,
		Gotchas:    l.Gotchas + d.Gotchas,
		CodeRefs:   l.CodeRefs + d.CodeRefs,
		PriorTasks: l.PriorTasks + d.PriorTasks,
	}
}

// Min returns the field-wise minimum of l and c.
func (l Limits) Min(c Limits) Limits {
	return Limits{
		Patterns:   min(l.Patterns, c.Patterns),
		Gotchas:    min(l.Gotchas, c.Gotchas),
		CodeRefs:   min(l.CodeRefs, c.CodeRefs),
		PriorTasks: min(l.PriorTasks, c.PriorTasks),
	}
}

func (l Limits) String() string {
	return fmt.Sprintf("patterns=%d gotchas=%d code_refs=%d prior_tasks=%d", l.Patterns, l.Gotchas, l.CodeRefs, l.PriorTasks)
}

var defaultLimits = map[Complexity]Limits{
	Easy:    {Patterns: 3, Gotchas: 2, CodeRefs: 5, PriorTasks: 2},
	Normal:  {Patterns: 5, Gotchas: 3, CodeRefs: 10, PriorTasks: 4},
	Complex: {Patterns: 10, Gotchas: 5, CodeRefs: 20, PriorTasks: 8},
}

// DefaultLimits returns the built-in limits of tier c. Unknown tiers get the
// Normal limits.
func DefaultLimits(c Complexity) Limits {
	if l, ok := defaultLimits[c]; ok {
		return l
	}
	return defaultLimits[Normal]
}

// Stage-two caps, applied per node type before the complexity limits.
const (
	MaxKnowledgePatterns  = 5
	MaxKnowledgeGotchas   = 3
	MaxKnowledgeDecisions = 3
	MaxRelatedTasks       = 5
	MaxReferences         = 10
)

// Task is the unit of work context is computed for.
type Task struct {
	ID                 string     `json:"id"`
	Objective          string     `json:"objective"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	Dependencies       []string   `json:"dependencies,omitempty"`
	Complexity         Complexity `json:"complexity,omitempty"`
	Skills             []string   `json:"skills,omitempty"`
}

// Text is the task text signals are extracted from.
func (t Task) Text() string {
	if len(t.AcceptanceCriteria) == 0 {
		return t.Objective
	}
	return t.Objective + "\n" + strings.Join(t.AcceptanceCriteria, "\n")
}

func (t Task) key() string {
	return strings.Join([]string{
		t.ID,
		t.Objective,
		string(t.Complexity),
		strings.Join(t.AcceptanceCriteria, "\x1f"),
		strings.Join(t.Dependencies, "\x1f"),
	}, "\x1e")
}

// Item is one entry of a context list.
type Item struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Ref      string `json:"ref,omitempty"`
	Severity string `json:"severity,omitempty"`
	FromTask string `json:"from_task,omitempty"` // set when pulled from a dependency handoff
	Score    int    `json:"score"`
}

// CodeRef is a scored file reference.
type CodeRef struct {
	Path     string `json:"path"`
	Reason   string `json:"reason,omitempty"`
	FromTask string `json:"from_task,omitempty"`
	Score    int    `json:"score"`
}

// Question is a blocking open question carried over from a dependency.
type Question struct {
	Question       string `json:"question"`
	Recommendation string `json:"recommendation,omitempty"`
	FromTask       string `json:"from_task"`
}

// Debug records how a context was computed.
type Debug struct {
	Signals             signals.Signals `json:"signals"`
	QueryTags           []string        `json:"query_tags"`
	NodesMatched        int             `json:"nodes_matched"`
	Candidates          map[string]int  `json:"candidates"`
	Limits              Limits          `json:"limits"`
	PendingDependencies []string        `json:"pending_dependencies,omitempty"`
}

// ComputedContext is the task-scoped context slice handed to an agent. It is
// never persisted and must be treated as read-only: concurrent identical
// computations share one value.
type ComputedContext struct {
	TaskID            string     `json:"task_id"`
	Complexity        Complexity `json:"complexity"`
	PatternsToFollow  []Item     `json:"patterns_to_follow"`
	Warnings          []Item     `json:"warnings"`
	RelevantDecisions []Item     `json:"relevant_decisions"`
	PriorWork         []Item     `json:"prior_work"`
	CodeReferences    []CodeRef  `json:"code_references"`
	BlockingQuestions []Question `json:"blocking_questions"`
	ActiveBlockers    []Item     `json:"active_blockers,omitempty"`
	Debug             Debug      `json:"debug"`
}

// IDs returns the ids of every knowledge item in c.
func (c *ComputedContext) IDs() []string {
	var ids []string
	for _, list := range [][]Item{c.PatternsToFollow, c.Warnings, c.RelevantDecisions, c.PriorWork} {
		for _, it := range list {
			ids = append(ids, it.ID)
		}
	}
	return ids
}
