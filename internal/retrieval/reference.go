package retrieval

import (
	"cmp"
	"path"
	"slices"
	"strings"

	"github.com/HendryAvila/kenning/internal/signals"
)

// reference is a candidate entry of the file/component reference map.
type reference struct {
	path      string
	reason    string
	fromTask  string
	mentioned bool // named by the task or handed over by a dependency
}

// referenceMap collects candidates keyed by normalized path. The first
// reason seen for a path is kept.
type referenceMap struct {
	order []string
	refs  map[string]*reference
}

func newReferenceMap() *referenceMap {
	return &referenceMap{refs: map[string]*reference{}}
}

func normPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(path.Clean(p), "./")
}

func (m *referenceMap) add(r reference) {
	r.path = normPath(r.path)
	if r.path == "" || r.path == "." {
		return
	}
	if cur, ok := m.refs[r.path]; ok {
		cur.mentioned = cur.mentioned || r.mentioned
		if cur.reason == "" {
			cur.reason = r.reason
		}
		if cur.fromTask == "" {
			cur.fromTask = r.fromTask
		}
		return
	}
	m.order = append(m.order, r.path)
	m.refs[r.path] = &r
}

// mentionedBy reports whether any of files names p, either exactly or as a
// path suffix.
func mentionedBy(p string, files []string) bool {
	for _, f := range files {
		f = normPath(f)
		if f == p || strings.HasSuffix(p, "/"+f) || strings.HasSuffix(f, "/"+p) {
			return true
		}
	}
	return false
}

// score applies the reference scoring rules:
// +2 per keyword in the file name, +1 per keyword in the location,
// +1 on a domain match, +3 when the file is explicitly mentioned.
func (r *reference) score(sig signals.Signals, tax *signals.Taxonomy) int {
	base := path.Base(r.path)
	name := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	location := strings.ToLower(path.Dir(r.path) + " " + r.reason)

	s := 0
	for _, k := range sig.Keywords {
		if strings.Contains(name, k) {
			s += 2
		} else if strings.Contains(location, k) {
			s++
		}
	}
	if len(sig.Domains) > 0 {
		for _, d := range tax.Match(strings.ReplaceAll(r.path, "_", " ") + " " + r.reason) {
			if slices.Contains(sig.Domains, d) {
				s++
				break
			}
		}
	}
	if r.mentioned || mentionedBy(r.path, sig.Files) {
		s += 3
	}
	return s
}

// rank scores every candidate, keeps those above zero and returns at most
// limit of them, best first. Ties are broken by path.
func (m *referenceMap) rank(sig signals.Signals, tax *signals.Taxonomy, limit int) []CodeRef {
	var out []CodeRef
	for _, p := range m.order {
		r := m.refs[p]
		if s := r.score(sig, tax); s > 0 {
			out = append(out, CodeRef{Path: r.path, Reason: r.reason, FromTask: r.fromTask, Score: s})
		}
	}
	slices.SortFunc(out, func(a, b CodeRef) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
