package retrieval

import (
	"fmt"
	"strings"
)

// Detail levels for rendering a ComputedContext.
//   - summary: ids and counts only
//   - standard: summaries with their references
//   - full: everything, including scores, sources and debug signals
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail level, defaulting to standard.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// EstimateTokens approximates the token count of text with the chars/4
// heuristic. Returns 0 for empty strings, at least 1 otherwise.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return n / 4
}

// TokenFooter returns a one-line footer with an estimated token count.
func TokenFooter(tokens int) string {
	return fmt.Sprintf("\n~%s tokens", formatNumber(tokens))
}

func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	var out []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// Render writes c as markdown at the given detail level. Empty sections are
// omitted.
func (c *ComputedContext) Render(level string) string {
	level = ParseDetailLevel(level)
	var b strings.Builder

	if level == DetailSummary {
		fmt.Fprintf(&b, "Context for %s (%s): %d patterns, %d warnings, %d decisions, %d prior tasks, %d code refs, %d blocking questions\n",
			c.TaskID, c.Complexity, len(c.PatternsToFollow), len(c.Warnings), len(c.RelevantDecisions),
			len(c.PriorWork), len(c.CodeReferences), len(c.BlockingQuestions))
		if ids := c.IDs(); len(ids) > 0 {
			fmt.Fprintf(&b, "Nodes: %s\n", strings.Join(ids, ", "))
		}
		return b.String()
	}

	renderItems(&b, "Active blockers", c.ActiveBlockers, level)
	renderItems(&b, "Patterns to follow", c.PatternsToFollow, level)
	renderItems(&b, "Warnings", c.Warnings, level)
	renderItems(&b, "Relevant decisions", c.RelevantDecisions, level)
	renderItems(&b, "Prior work", c.PriorWork, level)

	if len(c.CodeReferences) > 0 {
		b.WriteString("## Code references\n\n")
		for _, r := range c.CodeReferences {
			fmt.Fprintf(&b, "- `%s`", r.Path)
			if r.Reason != "" {
				fmt.Fprintf(&b, ": %s", r.Reason)
			}
			if level == DetailFull {
				fmt.Fprintf(&b, " (score %d", r.Score)
				if r.FromTask != "" {
					fmt.Fprintf(&b, ", from %s", r.FromTask)
				}
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(c.BlockingQuestions) > 0 {
		b.WriteString("## Blocking questions\n\n")
		for _, q := range c.BlockingQuestions {
			fmt.Fprintf(&b, "- [%s] %s", q.FromTask, q.Question)
			if q.Recommendation != "" {
				fmt.Fprintf(&b, " (recommended: %s)", q.Recommendation)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if level == DetailFull {
		d := c.Debug
		b.WriteString("## Retrieval\n\n")
		fmt.Fprintf(&b, "- query tags: %s\n", strings.Join(d.QueryTags, ", "))
		fmt.Fprintf(&b, "- files mentioned: %s\n", strings.Join(d.Signals.Files, ", "))
		fmt.Fprintf(&b, "- nodes matched: %d\n", d.NodesMatched)
		fmt.Fprintf(&b, "- limits: %s\n", d.Limits)
		if len(d.PendingDependencies) > 0 {
			fmt.Fprintf(&b, "- pending dependencies: %s\n", strings.Join(d.PendingDependencies, ", "))
		}
	}
	return b.String()
}

func renderItems(b *strings.Builder, title string, items []Item, level string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, it := range items {
		b.WriteString("- ")
		if it.Severity != "" {
			fmt.Fprintf(b, "[%s] ", it.Severity)
		}
		b.WriteString(it.Summary)
		if it.Ref != "" {
			fmt.Fprintf(b, " (%s)", it.Ref)
		}
		if level == DetailFull {
			fmt.Fprintf(b, " {id=%s score=%d", it.ID, it.Score)
			if it.FromTask != "" {
				fmt.Fprintf(b, " from=%s", it.FromTask)
			}
			b.WriteString("}")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
