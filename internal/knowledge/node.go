// Package knowledge implements the tag-indexed knowledge graph.
//
// Nodes live in an arena keyed by id. Connections are plain id references
// used for traversal only; the store owns every node. The tag index is
// derived from node tags and is rebuilt whenever it cannot be trusted.
package knowledge

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/HendryAvila/kenning/internal/errs"
)

// NodeType classifies a knowledge node.
type NodeType string

// Node types.
const (
	TypeTask     NodeType = "task"
	TypeDecision NodeType = "decision"
	TypePattern  NodeType = "pattern"
	TypeGotcha   NodeType = "gotcha"
	TypeInsight  NodeType = "insight"
	TypeStrategy NodeType = "strategy"
)

// NodeTypes lists every valid node type.
func NodeTypes() []NodeType {
	return []NodeType{TypeTask, TypeDecision, TypePattern, TypeGotcha, TypeInsight, TypeStrategy}
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes(), t)
}

// MaxSummaryLen is the longest summary a node may carry, in characters.
const MaxSummaryLen = 100

// Node is one unit of knowledge. Large content stays outside the graph and
// is referenced through DetailRef.
type Node struct {
	ID          string    `json:"id"`
	Type        NodeType  `json:"type"`
	Tags        []string  `json:"tags"`
	Summary     string    `json:"summary"`
	DetailRef   string    `json:"detail_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Connections []string  `json:"connections,omitempty"`
}

// NodePatch is a partial update. Nil fields are left unchanged.
type NodePatch struct {
	Type      *NodeType
	Tags      []string
	Summary   *string
	DetailRef *string
}

// NormalizeTags lowercases, trims, dedupes and sorts tags. Empty tags are
// dropped.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// HasTag reports whether n carries tag.
func (n Node) HasTag(tag string) bool {
	_, ok := slices.BinarySearch(n.Tags, tag)
	return ok
}

func (n Node) clone() Node {
	n.Tags = slices.Clone(n.Tags)
	n.Connections = slices.Clone(n.Connections)
	return n
}

// normalize returns n with canonical tag and connection sets.
func (n Node) normalize() Node {
	n.ID = strings.TrimSpace(n.ID)
	n.Summary = strings.TrimSpace(n.Summary)
	n.Tags = NormalizeTags(n.Tags)
	conns := slices.Clone(n.Connections)
	slices.Sort(conns)
	n.Connections = slices.DeleteFunc(slices.Compact(conns), func(id string) bool {
		return id == "" || id == n.ID
	})
	return n
}

// validate expects a normalized node.
func (n Node) validate() error {
	switch {
	case n.ID == "":
		return errs.Invalid("node", "id", "required")
	case n.Type == "":
		return errs.Invalid("node", "type", "required")
	case !n.Type.Valid():
		return errs.Invalid("node", "type", fmt.Sprintf("unknown type %q", n.Type))
	case len(n.Tags) == 0:
		return errs.Invalid("node", "tags", "at least one tag is required")
	case n.Summary == "":
		return errs.Invalid("node", "summary", "required")
	case utf8.RuneCountInString(n.Summary) > MaxSummaryLen:
		return errs.Invalid("node", "summary", fmt.Sprintf("longer than %d characters", MaxSummaryLen))
	case n.CreatedAt.IsZero():
		return errs.Invalid("node", "created_at", "required")
	}
	return nil
}

// Truncate shortens s to at most max characters, marking the cut with "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// DeriveID builds a stable node id from the content that identifies a piece
// of knowledge, so the same discovery always maps to the same node.
func DeriveID(t NodeType, summary, location string) string {
	sum := blake3.Sum256([]byte(string(t) + "\x00" + strings.TrimSpace(summary) + "\x00" + location))
	return string(t) + "-" + hex.EncodeToString(sum[:8])
}
