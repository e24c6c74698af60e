package signals

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// DefaultDomains maps each taxonomy domain to the terms that indicate it.
var DefaultDomains = map[string][]string{
	"api":         {"api", "endpoint", "endpoints", "rest", "graphql", "grpc", "route", "routes", "handler", "http", "request", "response", "webhook"},
	"auth":        {"auth", "authentication", "authorization", "login", "logout", "oauth", "jwt", "token", "password", "session", "permission", "permissions", "rbac"},
	"database":    {"database", "db", "sql", "sqlite", "postgres", "mysql", "query", "queries", "migration", "migrations", "schema", "table", "index", "orm"},
	"ui":          {"ui", "frontend", "component", "components", "button", "page", "form", "modal", "layout", "css", "template", "dashboard", "view"},
	"testing":     {"test", "tests", "testing", "coverage", "fixture", "fixtures", "mock", "mocks", "e2e", "integration test", "unit test"},
	"config":      {"config", "configuration", "settings", "env", "environment variable", "flag", "flags"},
	"performance": {"performance", "latency", "cache", "caching", "throughput", "slow", "optimize", "benchmark"},
	"security":    {"security", "vulnerability", "xss", "csrf", "injection", "sanitize", "encryption", "secret", "secrets"},
	"docs":        {"docs", "documentation", "readme", "changelog", "guide"},
	"infra":       {"deploy", "deployment", "docker", "kubernetes", "ci", "pipeline", "terraform", "build"},
}

// Taxonomy matches text against a fixed set of domains in a single pass.
type Taxonomy struct {
	ac      *ahocorasick.Automaton
	domains []string // pattern index -> domain
	terms   []string
}

// NewTaxonomy compiles domains into an automaton. Terms are matched
// case-insensitively on word boundaries.
func NewTaxonomy(domains map[string][]string) (*Taxonomy, error) {
	t := &Taxonomy{}
	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	slices.Sort(names)
	for _, d := range names {
		for _, term := range domains[d] {
			t.terms = append(t.terms, strings.ToLower(term))
			t.domains = append(t.domains, d)
		}
	}
	if len(t.terms) == 0 {
		return t, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(t.terms).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("signals: build taxonomy: %w", err)
	}
	t.ac = ac
	return t, nil
}

// MustTaxonomy is NewTaxonomy that panics on error. Used for package-level
// defaults built from literals.
func MustTaxonomy(domains map[string][]string) *Taxonomy {
	t, err := NewTaxonomy(domains)
	if err != nil {
		panic(err)
	}
	return t
}

// Match returns the domains found in text, sorted.
func (t *Taxonomy) Match(text string) []string {
	if t == nil || t.ac == nil || text == "" {
		return nil
	}
	hay := []byte(strings.ToLower(text))
	seen := map[string]bool{}
	for _, m := range t.ac.FindAllOverlapping(hay) {
		if m.PatternID < 0 || m.PatternID >= len(t.domains) {
			continue
		}
		if !boundary(hay, m.Start-1, true) || !boundary(hay, m.End, false) {
			continue
		}
		seen[t.domains[m.PatternID]] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// boundary reports whether the rune touching position i is not part of a word.
func boundary(b []byte, i int, before bool) bool {
	if i < 0 || i >= len(b) {
		return true
	}
	var r rune
	if before {
		r, _ = utf8.DecodeLastRune(b[:i+1])
	} else {
		r, _ = utf8.DecodeRune(b[i:])
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
