package state

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/knowledge"
)

// ConsolidationResult reports what a consolidation run migrated.
type ConsolidationResult struct {
	NodesCreated  []string `json:"nodes_created"`
	NodesExisting int      `json:"nodes_existing"`
	ColdAppended  int      `json:"cold_appended"`
}

// DiscoveryNodeID derives a stable node id from a discovery so repeated
// consolidation of the same discovery always targets the same node.
func DiscoveryNodeID(d Discovery) string {
	return knowledge.DeriveID(nodeType(d.Kind), knowledge.Truncate(strings.TrimSpace(d.Summary), knowledge.MaxSummaryLen), d.Location)
}

func nodeType(k DiscoveryKind) knowledge.NodeType {
	switch k {
	case DiscoveryGotcha:
		return knowledge.TypeGotcha
	case DiscoveryDecision:
		return knowledge.TypeDecision
	}
	return knowledge.TypePattern
}

// DiscoveryNode builds the knowledge node for a working-memory discovery.
func DiscoveryNode(a Attempt) knowledge.Node {
	d := *a.Discovery
	tags := append([]string{string(d.Kind)}, d.Tags...)
	if a.TaskID != "" {
		tags = append(tags, a.TaskID)
	}
	return knowledge.Node{
		ID:        DiscoveryNodeID(d),
		Type:      nodeType(d.Kind),
		Tags:      tags,
		Summary:   knowledge.Truncate(strings.TrimSpace(d.Summary), knowledge.MaxSummaryLen),
		DetailRef: d.Location,
		CreatedAt: a.At,
	}
}

// Consolidate migrates working-memory discoveries into the knowledge graph
// and cold memory, then resets hot state to an empty session.
//
// A discovery whose summary and location already exist as a node is left
// alone, so running Consolidate again over the same discoveries creates
// nothing new.
func (m *Manager) Consolidate(ctx context.Context) (*ConsolidationResult, error) {
	hot := m.Hot()
	discoveries := hot.Discoveries()
	res := &ConsolidationResult{}

	if len(discoveries) > 0 && m.store != nil {
		err := m.store.Update(ctx, func(tx *knowledge.Tx) error {
			res.NodesCreated = nil
			res.NodesExisting = 0
			for _, a := range discoveries {
				n := DiscoveryNode(a)
				if _, ok := m.store.Find(n.Summary, n.DetailRef); ok {
					res.NodesExisting++
					continue
				}
				if _, ok := tx.Get(n.ID); ok {
					res.NodesExisting++
					continue
				}
				if err := tx.Add(n); err != nil {
					return fmt.Errorf("discovery %q: %w", n.Summary, err)
				}
				res.NodesCreated = append(res.NodesCreated, n.ID)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("state: consolidate knowledge: %w", err)
		}
	}

	if len(hot.WorkingMemory) > 0 {
		err := m.appendCold(ctx, func(mem *Memory) error {
			res.ColdAppended = 0
			for _, a := range discoveries {
				if m.appendDiscovery(mem, a) {
					res.ColdAppended++
				}
			}
			mem.SessionHistory.Append(SessionSummary{
				SessionID: hot.SessionID,
				TaskID:    hot.CurrentContext.ActiveTaskID,
				Summary:   fmt.Sprintf("consolidated %d working-memory entries, %d discoveries", len(hot.WorkingMemory), len(discoveries)),
				At:        timeNow().UTC(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("state: consolidate cold memory: %w", err)
		}
	}

	if err := m.Discard(ctx); err != nil {
		return nil, err
	}

	m.log.Info("consolidated session",
		zap.String("session", hot.SessionID),
		zap.Int("created", len(res.NodesCreated)),
		zap.Int("existing", res.NodesExisting),
		zap.Int("cold_appended", res.ColdAppended),
	)
	return res, nil
}

// appendDiscovery adds a to the matching cold-memory log unless an identical
// entry is already there.
func (m *Manager) appendDiscovery(mem *Memory, a Attempt) bool {
	d := a.Discovery
	switch d.Kind {
	case DiscoveryDecision:
		if mem.KeyDecisions.ContainsFunc(func(x Decision) bool { return x.Summary == d.Summary }) {
			return false
		}
		mem.KeyDecisions.Append(Decision{Summary: d.Summary, Location: d.Location, TaskID: a.TaskID, At: a.At})
		return true
	default:
		entry := Learned{Summary: d.Summary, Location: d.Location, TaskID: a.TaskID, At: a.At}
		log := &mem.LearnedContext.Patterns
		if d.Kind == DiscoveryGotcha {
			log = &mem.LearnedContext.Gotchas
		}
		if log.ContainsFunc(entry.sameAs) {
			return false
		}
		log.Append(entry)
		return true
	}
}
