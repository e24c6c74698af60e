package strategy

import (
	"slices"
	"strings"
	"time"

	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// Signal is an observation attached to a feedback event.
type Signal string

// Known signals. Any other non-empty signal is accepted and treated as a
// failure signal.
const (
	SignalSkillMismatch       Signal = "skill_mismatch"
	SignalMissingSkill        Signal = "missing_skill"
	SignalWrongApproach       Signal = "wrong_approach"
	SignalContextInsufficient Signal = "context_insufficient"
	SignalModelInadequate     Signal = "model_inadequate"
	SignalBeneficialPairing   Signal = "beneficial_pairing"
)

// Event is one feedback record about an executed task.
type Event struct {
	ID         string               `json:"id"`
	TaskID     string               `json:"task_id" validate:"required"`
	Timestamp  time.Time            `json:"timestamp"`
	Outcome    handoff.Outcome      `json:"outcome" validate:"required,oneof=completed partial failed blocked"`
	Signals    []Signal             `json:"signals,omitempty" validate:"dive,required"`
	Skills     []string             `json:"skills,omitempty" validate:"dive,required"`
	Complexity retrieval.Complexity `json:"complexity,omitempty" validate:"omitempty,oneof=easy normal complex"`
	Model      string               `json:"model,omitempty"`
	Notes      string               `json:"notes,omitempty"`
}

// Failed reports whether the task did not complete.
func (e Event) Failed() bool { return e.Outcome != handoff.OutcomeCompleted }

// RuleKind is what a rule adjusts.
type RuleKind string

// Rule kinds.
const (
	KindSkillPairing   RuleKind = "skill_pairing"
	KindSkillExclusion RuleKind = "skill_exclusion"
	KindContextLimit   RuleKind = "context_limit"
	KindModelOverride  RuleKind = "model_override"
	KindAntiPattern    RuleKind = "anti_pattern"
)

// Valid reports whether k is a known kind.
func (k RuleKind) Valid() bool {
	switch k {
	case KindSkillPairing, KindSkillExclusion, KindContextLimit, KindModelOverride, KindAntiPattern:
		return true
	}
	return false
}

// Confidence is how established a rule is.
type Confidence string

// Confidence levels, lowest first.
const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var levels = []Confidence{ConfidenceNone, ConfidenceLow, ConfidenceMedium, ConfidenceHigh}

func (c Confidence) level() int { return max(slices.Index(levels, c), 0) }

// Lower returns the next level down. None stays none.
func (c Confidence) Lower() Confidence {
	return levels[max(c.level()-1, 0)]
}

// FromEvidence maps a count of supporting events to a confidence:
// 1–2 low, 3–5 medium, 6+ high.
func FromEvidence(n int) Confidence {
	switch {
	case n >= 6:
		return ConfidenceHigh
	case n >= 3:
		return ConfidenceMedium
	case n >= 1:
		return ConfidenceLow
	}
	return ConfidenceNone
}

// Source is where a rule came from.
type Source string

// Rule sources.
const (
	SourceLearned  Source = "learned"
	SourceManual   Source = "manual"
	SourceImported Source = "imported"
)

// Rule is a learned or authored retrieval/selection heuristic.
type Rule struct {
	ID                string               `yaml:"id" json:"id"`
	Kind              RuleKind             `yaml:"kind" json:"kind"`
	Condition         string               `yaml:"condition" json:"condition"`
	Effect            string               `yaml:"effect" json:"effect"`
	Confidence        Confidence           `yaml:"confidence" json:"confidence"`
	Source            Source               `yaml:"source" json:"source"`
	EvidenceCount     int                  `yaml:"evidence_count" json:"evidence_count"`
	LastAppliedAt     *time.Time           `yaml:"last_applied_at,omitempty" json:"last_applied_at,omitempty"`
	TasksSinceApplied int                  `yaml:"tasks_since_applied" json:"tasks_since_applied"`
	CreatedAt         time.Time            `yaml:"created_at" json:"created_at"`
	Skills            []string             `yaml:"skills,omitempty" json:"skills,omitempty"`
	Signal            Signal               `yaml:"signal,omitempty" json:"signal,omitempty"`
	Complexity        retrieval.Complexity `yaml:"complexity,omitempty" json:"complexity,omitempty"`
	Models            []string             `yaml:"models,omitempty" json:"models,omitempty"`
	Limits            *retrieval.Limits    `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// Decays reports whether r loses confidence when unused.
func (r Rule) Decays() bool { return r.Source != SourceManual }

// key identifies the situation a rule is about; two events about the same
// situation update the same rule.
func (r Rule) key() string {
	switch r.Kind {
	case KindContextLimit, KindModelOverride:
		return string(r.Kind) + "|" + string(r.Complexity)
	case KindAntiPattern:
		return string(r.Kind) + "|" + string(r.Signal) + "|" + strings.Join(r.Skills, ",")
	default:
		return string(r.Kind) + "|" + strings.Join(r.Skills, ",")
	}
}

func (r Rule) clone() Rule {
	r.Skills = slices.Clone(r.Skills)
	r.Models = slices.Clone(r.Models)
	if r.Limits != nil {
		l := *r.Limits
		r.Limits = &l
	}
	if r.LastAppliedAt != nil {
		t := *r.LastAppliedAt
		r.LastAppliedAt = &t
	}
	return r
}

// Outcome reports what recording one event changed.
type Outcome struct {
	EventID     string `json:"event_id"`
	Created     []Rule `json:"created,omitempty"`
	Updated     []Rule `json:"updated,omitempty"`
	Decayed     []Rule `json:"decayed,omitempty"`
	NeedsReview []Rule `json:"needs_review,omitempty"`
}

// Changed returns every rule the event created or updated.
func (o *Outcome) Changed() []Rule {
	return slices.Concat(o.Created, o.Updated)
}

func normSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
