package knowledge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/errs"
)

// snapshot is an immutable view of the graph. Readers load the current
// snapshot pointer and never observe a half-applied write.
type snapshot struct {
	generation uint64
	nodes      map[string]Node
	index      tagIndex
}

func (s *snapshot) graph() *Graph {
	ids := slices.Sorted(maps.Keys(s.nodes))
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, s.nodes[id].clone())
	}
	return &Graph{
		Version:    GraphVersion,
		Generation: s.generation,
		Nodes:      nodes,
		TagIndex:   s.index.export(),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the knowledge graph. Writes are serialized and persisted as full
// snapshots through the Backend; reads are lock-free against the last
// committed snapshot.
type Store struct {
	backend Backend
	log     *zap.Logger

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// Open loads the graph from backend. A tag index that disagrees with the
// node set is rebuilt from the nodes and the repair is logged.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{backend: backend, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) reload(ctx context.Context) error {
	g, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("knowledge: load: %w", err)
	}

	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		n = n.normalize()
		if err := n.validate(); err != nil {
			return errs.Corrupt("node "+n.ID, err)
		}
		nodes[n.ID] = n
	}

	pruned := 0
	for id, n := range nodes {
		kept := slices.DeleteFunc(slices.Clone(n.Connections), func(c string) bool {
			_, ok := nodes[c]
			return !ok
		})
		if len(kept) != len(n.Connections) {
			pruned += len(n.Connections) - len(kept)
			n.Connections = kept
			nodes[id] = n
		}
	}
	if pruned > 0 {
		s.log.Warn("pruned dangling connections on load", zap.Int("count", pruned))
	}

	idx := buildIndex(nodes)
	if !idx.matches(g.TagIndex) {
		s.log.Warn("tag index inconsistent with nodes, rebuilt",
			zap.Error(fmt.Errorf("tag index: %w", errs.ErrIOCorrupt)),
			zap.Int("nodes", len(nodes)),
			zap.Int("persisted_tags", len(g.TagIndex)),
			zap.Int("derived_tags", len(idx)),
		)
	}

	s.current.Store(&snapshot{generation: g.Generation, nodes: nodes, index: idx})
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Tx stages mutations against a private copy of the graph. Nothing is
// visible to readers until Update persists and publishes it.
type Tx struct {
	base    *snapshot
	nodes   map[string]Node
	index   tagIndex
	created []string
	dirty   bool
}

func newTx(base *snapshot) *Tx {
	return &Tx{base: base, nodes: base.nodes, index: base.index}
}

// own copies the base maps before the first mutation.
func (tx *Tx) own() {
	if tx.dirty {
		return
	}
	tx.nodes = maps.Clone(tx.base.nodes)
	tx.index = tx.base.index.clone()
	tx.dirty = true
}

// Get returns the staged node with id.
func (tx *Tx) Get(id string) (Node, bool) {
	n, ok := tx.nodes[id]
	return n.clone(), ok
}

// Created returns the ids added in this transaction, in insertion order.
func (tx *Tx) Created() []string {
	return slices.Clone(tx.created)
}

// Add validates and stages a new node.
func (tx *Tx) Add(n Node) error {
	n = n.normalize()
	if err := n.validate(); err != nil {
		return err
	}
	if _, ok := tx.nodes[n.ID]; ok {
		return errs.Invalid("node", "id", fmt.Sprintf("duplicate id %q", n.ID))
	}
	for _, c := range n.Connections {
		if _, ok := tx.nodes[c]; !ok {
			return errs.NotFound("connection target", c)
		}
	}
	tx.own()
	tx.nodes[n.ID] = n
	for _, t := range n.Tags {
		tx.index.add(t, n.ID)
	}
	tx.created = append(tx.created, n.ID)
	return nil
}

// Update applies a patch. Retagging leaves the old buckets before joining
// the new ones.
func (tx *Tx) Update(id string, p NodePatch) error {
	old, ok := tx.nodes[id]
	if !ok {
		return errs.NotFound("node", id)
	}
	n := old.clone()
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Tags != nil {
		n.Tags = p.Tags
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.DetailRef != nil {
		n.DetailRef = *p.DetailRef
	}
	n = n.normalize()
	if err := n.validate(); err != nil {
		return err
	}

	tx.own()
	for _, t := range old.Tags {
		tx.index.remove(t, id)
	}
	for _, t := range n.Tags {
		tx.index.add(t, id)
	}
	tx.nodes[id] = n
	return nil
}

// Delete removes a node and prunes every connection that references it.
func (tx *Tx) Delete(id string) error {
	old, ok := tx.nodes[id]
	if !ok {
		return errs.NotFound("node", id)
	}
	tx.own()
	for _, t := range old.Tags {
		tx.index.remove(t, id)
	}
	delete(tx.nodes, id)
	for oid, n := range tx.nodes {
		if slices.Contains(n.Connections, id) {
			n = n.clone()
			n.Connections = slices.DeleteFunc(n.Connections, func(c string) bool { return c == id })
			tx.nodes[oid] = n
		}
	}
	tx.created = slices.DeleteFunc(tx.created, func(c string) bool { return c == id })
	return nil
}

// Connect adds a weak reference from -> to. Both nodes must exist.
func (tx *Tx) Connect(from, to string) error {
	n, ok := tx.nodes[from]
	if !ok {
		return errs.NotFound("node", from)
	}
	if _, ok := tx.nodes[to]; !ok {
		return errs.NotFound("node", to)
	}
	if from == to {
		return errs.Invalid("connection", "to", "a node cannot connect to itself")
	}
	if slices.Contains(n.Connections, to) {
		return nil
	}
	tx.own()
	n = n.clone()
	n.Connections = append(n.Connections, to)
	slices.Sort(n.Connections)
	tx.nodes[from] = n
	return nil
}

// Update runs fn against a private copy of the graph, persists the result
// and publishes it. If fn or the save fails the published graph is
// unchanged. A generation conflict reloads from the backend and retries fn
// once; a second conflict is returned.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for attempt := 0; ; attempt++ {
		base := s.current.Load()
		tx := newTx(base)
		if err := fn(tx); err != nil {
			return err
		}
		if !tx.dirty {
			return nil
		}

		next := &snapshot{generation: base.generation + 1, nodes: tx.nodes, index: tx.index}
		g := next.graph()
		g.LastUpdated = timeNow().UTC()

		err := s.backend.Save(ctx, g, base.generation)
		if err == nil {
			s.current.Store(next)
			return nil
		}
		if errors.Is(err, errs.ErrConcurrencyConflict) && attempt == 0 {
			s.log.Warn("knowledge graph changed underneath, reloading", zap.Error(err))
			if rerr := s.reload(ctx); rerr != nil {
				return rerr
			}
			continue
		}
		return fmt.Errorf("knowledge: save: %w", err)
	}
}

// ─── Single-operation writes ────────────────────────────────────────────────

// AddNode inserts a node and its tag-index entries as one persisted write.
func (s *Store) AddNode(ctx context.Context, n Node) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Add(n) })
}

// UpdateNode applies a partial update to the node with id.
func (s *Store) UpdateNode(ctx context.Context, id string, p NodePatch) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Update(id, p) })
}

// DeleteNode removes the node with id.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Delete(id) })
}

// DeleteNodes removes every listed node that still exists, in one write.
func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, id := range ids {
			if _, ok := tx.nodes[id]; !ok {
				continue
			}
			if err := tx.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Connect links from -> to.
func (s *Store) Connect(ctx context.Context, from, to string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Connect(from, to) })
}

// Import adds every node of g that is not already present. Connections to
// nodes missing from both the store and g are dropped.
func (s *Store) Import(ctx context.Context, g *Graph) (int, error) {
	added := 0
	err := s.Update(ctx, func(tx *Tx) error {
		added = 0
		var fresh []Node
		for _, n := range g.Nodes {
			if _, ok := tx.nodes[n.ID]; ok {
				continue
			}
			conns := n.Connections
			n.Connections = nil
			if err := tx.Add(n); err != nil {
				return fmt.Errorf("import node %s: %w", n.ID, err)
			}
			n.Connections = conns
			fresh = append(fresh, n)
			added++
		}
		for _, n := range fresh {
			for _, c := range n.Connections {
				if _, ok := tx.nodes[c]; ok && c != n.ID {
					if err := tx.Connect(n.ID, c); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	return added, err
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Get returns the node with id.
func (s *Store) Get(id string) (Node, error) {
	n, ok := s.current.Load().nodes[id]
	if !ok {
		return Node{}, errs.NotFound("node", id)
	}
	return n.clone(), nil
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	return len(s.current.Load().nodes)
}

// Generation returns the committed graph generation.
func (s *Store) Generation() uint64 {
	return s.current.Load().generation
}

// Export returns the committed graph in its persisted form.
func (s *Store) Export() *Graph {
	return s.current.Load().graph()
}

// Find returns the node whose summary and detail reference both match.
func (s *Store) Find(summary, detailRef string) (Node, bool) {
	snap := s.current.Load()
	var best Node
	found := false
	for _, n := range snap.nodes {
		if n.Summary == summary && n.DetailRef == detailRef {
			if !found || n.ID < best.ID {
				best, found = n, true
			}
		}
	}
	return best.clone(), found
}

// ByType returns every node of type t ordered newest first.
func (s *Store) ByType(t NodeType) []Node {
	snap := s.current.Load()
	var out []Node
	for _, n := range snap.nodes {
		if n.Type == t {
			out = append(out, n.clone())
		}
	}
	slices.SortFunc(out, newestFirst)
	return out
}

// Scored is a query hit with its relevance score.
type Scored struct {
	Node  Node `json:"node"`
	Score int  `json:"score"`
}

// QueryByTags returns nodes sharing at least one tag with the query, ordered
// by the number of shared tags, then newest created_at, then id ascending.
// limit <= 0 returns every match.
func (s *Store) QueryByTags(tags []string, limit int) []Scored {
	snap := s.current.Load()
	scores := map[string]int{}
	for _, t := range NormalizeTags(tags) {
		for id := range snap.index[t] {
			scores[id]++
		}
	}

	out := make([]Scored, 0, len(scores))
	for id, score := range scores {
		out = append(out, Scored{Node: snap.nodes[id].clone(), Score: score})
	}
	slices.SortFunc(out, func(a, b Scored) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return newestFirst(a.Node, b.Node)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newestFirst(a, b Node) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Tags returns every indexed tag with its node count.
func (s *Store) Tags() map[string]int {
	snap := s.current.Load()
	out := make(map[string]int, len(snap.index))
	for t, set := range snap.index {
		out[t] = len(set)
	}
	return out
}
