// Package signals derives retrieval signals from task text: keywords, matches
// against a small domain taxonomy, and explicit file path mentions.
package signals

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Signals is what an Extractor found in a piece of task text.
type Signals struct {
	Keywords []string `json:"keywords"`
	Domains  []string `json:"domains"`
	Files    []string `json:"files"`
}

// Tags returns keywords ∪ domains, deduplicated in first-seen order.
func (s Signals) Tags() []string {
	out := make([]string, 0, len(s.Keywords)+len(s.Domains))
	seen := make(map[string]bool, cap(out))
	for _, t := range slices.Concat(s.Keywords, s.Domains) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Empty reports whether nothing was extracted.
func (s Signals) Empty() bool {
	return len(s.Keywords) == 0 && len(s.Domains) == 0 && len(s.Files) == 0
}

// Extractor turns free text into Signals. Implementations must be safe for
// concurrent use.
type Extractor interface {
	Extract(text string) Signals
}

var filePattern = regexp.MustCompile(
	`(?:[A-Za-z0-9_.-]+/)*[A-Za-z0-9_-]+\.(?:go|py|ts|tsx|js|jsx|mjs|rs|java|kt|rb|php|c|h|cpp|cs|swift|sql|md|yaml|yml|json|toml|ini|html|css|scss|sh|proto|tf)\b`)

// Files returns the file paths mentioned in text, in order of first mention.
func Files(text string) []string {
	var out []string
	for _, m := range filePattern.FindAllString(text, -1) {
		m = strings.TrimPrefix(m, "./")
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// Words splits text into lowercase alphanumeric words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isNumber(w string) bool {
	return strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
