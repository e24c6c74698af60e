// Package prompt assembles agent prompts split for provider-side prompt
// caching: a prefix that depends only on the set of skills, and a suffix that
// carries everything task-specific.
package prompt

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/HendryAvila/kenning/internal/retrieval"
)

// Skill is a reusable block of agent instructions.
type Skill struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Content string `json:"content" yaml:"content"`
}

// Prompt is an assembled prompt. Prefix is byte-identical for the same set of
// skills, so CacheKey identifies it.
type Prompt struct {
	Prefix       string   `json:"prefix"`
	Suffix       string   `json:"suffix"`
	CacheKey     string   `json:"cache_key"`
	SkillIDs     []string `json:"skill_ids"`
	PrefixTokens int      `json:"prefix_tokens"`
	SuffixTokens int      `json:"suffix_tokens"`
}

// Text returns the full prompt.
func (p Prompt) Text() string { return p.Prefix + p.Suffix }

// Option configures Assemble.
type Option func(*options)

type options struct {
	detail string
}

// WithDetail sets the detail level the computed context is rendered at.
func WithDetail(level string) Option {
	return func(o *options) { o.detail = retrieval.ParseDetailLevel(level) }
}

const identity = `# Role

You are a focused implementation agent working on one task of a larger plan.
Another process schedules tasks and keeps project memory; you receive only the
context relevant to your task.

`

const rules = `# Rules

- Stay within the task objective. Note anything out of scope under suggested_next_steps.
- Follow the listed patterns and heed the warnings before writing code.
- Do not guess about blocking questions; report them.
- Keep changes minimal and leave the tree building and tested.

`

const outputFormat = "# Output format\n\n" +
	"End your reply with a handoff block:\n\n" +
	"```yaml\n" +
	"outcome: completed        # completed | partial | failed | blocked\n" +
	"summary: one line\n" +
	"files_created:\n" +
	"  - {path: ..., purpose: ...}\n" +
	"files_modified:\n" +
	"  - {path: ..., change_type: ..., lines: ...}\n" +
	"patterns_discovered:\n" +
	"  - {pattern: ..., location: ..., applies_to: [...]}\n" +
	"gotchas:\n" +
	"  - {issue: ..., mitigation: ..., severity: high, applies_to: [...]}\n" +
	"dependencies_for_next:\n" +
	"  - {file: ..., reason: ...}\n" +
	"open_questions:\n" +
	"  - {question: ..., recommendation: ..., blocking: false}\n" +
	"suggested_next_steps: [...]\n" +
	"blockers:                 # required unless outcome is completed\n" +
	"  - {description: ..., resolution: ..., affected_tasks: [...]}\n" +
	"```\n\n"

// Assemble builds the prompt for task with the given skills and computed
// context. Skills are ordered by id, so the prefix and the cache key do not
// depend on the order they are passed in. cc may be nil.
func Assemble(skills []Skill, cc *retrieval.ComputedContext, task retrieval.Task, opts ...Option) Prompt {
	o := options{detail: retrieval.DetailStandard}
	for _, fn := range opts {
		fn(&o)
	}

	sorted := slices.Clone(skills)
	slices.SortStableFunc(sorted, func(a, b Skill) int { return strings.Compare(a.ID, b.ID) })
	sorted = slices.CompactFunc(sorted, func(a, b Skill) bool { return a.ID == b.ID })

	ids := make([]string, len(sorted))
	for i, s := range sorted {
		ids[i] = s.ID
	}

	prefix := buildPrefix(sorted)
	suffix := buildSuffix(cc, task, o.detail)
	return Prompt{
		Prefix:       prefix,
		Suffix:       suffix,
		CacheKey:     CacheKey(ids),
		SkillIDs:     ids,
		PrefixTokens: retrieval.EstimateTokens(prefix),
		SuffixTokens: retrieval.EstimateTokens(suffix),
	}
}

// CacheKey is the hex blake3 digest of the sorted skill ids joined by "\n".
func CacheKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sum := blake3.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func buildPrefix(skills []Skill) string {
	var b strings.Builder
	b.WriteString(identity)
	b.WriteString(rules)
	b.WriteString(outputFormat)
	if len(skills) == 0 {
		return b.String()
	}
	b.WriteString("# Skills\n\n")
	for _, s := range skills {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, strings.TrimSpace(s.Content))
	}
	return b.String()
}

func buildSuffix(cc *retrieval.ComputedContext, task retrieval.Task, detail string) string {
	var b strings.Builder
	if task.ID != "" {
		fmt.Fprintf(&b, "# Task %s\n\n", task.ID)
	} else {
		b.WriteString("# Task\n\n")
	}
	fmt.Fprintf(&b, "## Objective\n\n%s\n\n", strings.TrimSpace(task.Objective))
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance criteria\n\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if cc != nil {
		if body := cc.Render(detail); body != "" {
			b.WriteString("# Context\n\n")
			b.WriteString(body)
		}
	}
	return b.String()
}
