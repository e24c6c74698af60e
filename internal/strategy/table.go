package strategy

import (
	"fmt"
	"strings"
	"time"
)

// renderTable writes the human-readable rules table.
func renderTable(rules, review []Rule) string {
	var b strings.Builder
	b.WriteString("# Strategy Rules\n\n")
	if len(rules) == 0 {
		b.WriteString("_No active rules._\n")
	} else {
		writeRules(&b, rules)
	}
	if len(review) > 0 {
		b.WriteString("\n## Needs Review\n\n")
		b.WriteString("Rules whose confidence decayed to none. Confirm, edit or drop them.\n\n")
		writeRules(&b, review)
	}
	return b.String()
}

func writeRules(b *strings.Builder, rules []Rule) {
	b.WriteString("| ID | Kind | Condition | Effect | Confidence | Source | Evidence | Last applied | Idle tasks |\n")
	b.WriteString("|----|------|-----------|--------|------------|--------|----------|--------------|------------|\n")
	for _, r := range rules {
		last := "never"
		if r.LastAppliedAt != nil {
			last = r.LastAppliedAt.UTC().Format(time.DateOnly)
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s | %d | %s | %d |\n",
			shortID(r.ID), r.Kind, cell(r.Condition), cell(r.Effect), r.Confidence, r.Source,
			r.EvidenceCount, last, r.TasksSinceApplied)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
