package knowledge

import (
	"maps"
	"slices"
)

// tagIndex maps tag -> set of node ids. It is never mutated once it belongs
// to a published snapshot.
type tagIndex map[string]map[string]struct{}

func buildIndex(nodes map[string]Node) tagIndex {
	idx := make(tagIndex)
	for id, n := range nodes {
		for _, t := range n.Tags {
			idx.add(t, id)
		}
	}
	return idx
}

func (idx tagIndex) add(tag, id string) {
	set, ok := idx[tag]
	if !ok {
		set = make(map[string]struct{})
		idx[tag] = set
	}
	set[id] = struct{}{}
}

func (idx tagIndex) remove(tag, id string) {
	set, ok := idx[tag]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, tag)
	}
}

func (idx tagIndex) clone() tagIndex {
	out := make(tagIndex, len(idx))
	for tag, set := range idx {
		out[tag] = maps.Clone(set)
	}
	return out
}

// export renders the index with sorted ids for the graph file.
func (idx tagIndex) export() map[string][]string {
	out := make(map[string][]string, len(idx))
	for tag, set := range idx {
		out[tag] = slices.Sorted(maps.Keys(set))
	}
	return out
}

// matches reports whether a persisted index is exactly the index derived
// from nodes.
func (idx tagIndex) matches(persisted map[string][]string) bool {
	if len(idx) != len(persisted) {
		return false
	}
	for tag, ids := range persisted {
		got := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			got[id] = struct{}{}
		}
		if !maps.Equal(idx[tag], got) {
			return false
		}
	}
	return true
}
