package enginetools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// QueryKnowledgeTool handles the ctx_query_knowledge MCP tool.
type QueryKnowledgeTool struct {
	engine *engine.Engine
}

// NewQueryKnowledgeTool creates a QueryKnowledgeTool.
func NewQueryKnowledgeTool(e *engine.Engine) *QueryKnowledgeTool {
	return &QueryKnowledgeTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_query_knowledge.
func (t *QueryKnowledgeTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_query_knowledge",
		mcp.WithDescription(
			"Query the knowledge graph by tags. Nodes are ranked by how many query tags they carry, "+
				"newest first on ties.",
		),
		mcp.WithString("tags",
			mcp.Required(),
			mcp.Description("Comma-separated tags, e.g. auth, api"),
		),
		mcp.WithString("type",
			mcp.Description("Only return nodes of this type"),
			mcp.Enum("task", "decision", "pattern", "gotcha", "insight", "strategy"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10)"),
		),
		mcp.WithString("detail_level",
			mcp.Description("summary (summaries only), standard (default, adds tags) or full (adds refs and connections)"),
			mcp.Enum(retrieval.DetailLevelValues()...),
		),
	)
}

// Handle processes the ctx_query_knowledge tool call.
func (t *QueryKnowledgeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := listArg(req, "tags")
	if len(tags) == 0 {
		return mcp.NewToolResultError("'tags' is required"), nil
	}
	typ := req.GetString("type", "")
	limit := intArg(req, "limit", 10)
	level := retrieval.ParseDetailLevel(req.GetString("detail_level", ""))

	// Type filtering happens after ranking, so query everything.
	results := t.engine.Knowledge().QueryByTags(tags, 0)

	var b strings.Builder
	n := 0
	for _, r := range results {
		if typ != "" && string(r.Node.Type) != typ {
			continue
		}
		if n == limit {
			break
		}
		n++
		fmt.Fprintf(&b, "[%d] %s (%s, score %d) %s\n", n, r.Node.ID, r.Node.Type, r.Score, r.Node.Summary)
		if level == retrieval.DetailSummary {
			continue
		}
		fmt.Fprintf(&b, "    tags: %s\n", strings.Join(r.Node.Tags, ", "))
		if level == retrieval.DetailFull {
			if r.Node.DetailRef != "" {
				fmt.Fprintf(&b, "    ref: %s\n", r.Node.DetailRef)
			}
			if len(r.Node.Connections) > 0 {
				fmt.Fprintf(&b, "    connections: %s\n", strings.Join(r.Node.Connections, ", "))
			}
		}
	}
	if n == 0 {
		return mcp.NewToolResultText("No knowledge matches those tags."), nil
	}

	text := fmt.Sprintf("Found %d nodes:\n\n", n) + b.String()
	return mcp.NewToolResultText(text + retrieval.TokenFooter(retrieval.EstimateTokens(text))), nil
}

// ─── ConnectedTool ──────────────────────────────────────────────────────────

// ConnectedTool handles the ctx_connected MCP tool.
type ConnectedTool struct {
	engine *engine.Engine
}

// NewConnectedTool creates a ConnectedTool.
func NewConnectedTool(e *engine.Engine) *ConnectedTool {
	return &ConnectedTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_connected.
func (t *ConnectedTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_connected",
		mcp.WithDescription(
			"List the knowledge nodes reachable from a node by following its connections, "+
				"e.g. the patterns and gotchas a task produced.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Start node ID"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Max hops to follow (default: 2, max: 5)"),
		),
	)
}

// Handle processes the ctx_connected tool call.
func (t *ConnectedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	depth := min(intArg(req, "depth", 2), 5)

	reached, err := t.engine.Knowledge().GetConnected(id, depth)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to traverse: %v", err)), nil
	}
	if len(reached) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Node %s has no connections within %d hops.", id, depth)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d nodes reachable from %s:\n\n", len(reached), id)
	for _, r := range reached {
		fmt.Fprintf(&b, "%s%s (%s) %s\n", strings.Repeat("  ", max(r.Depth-1, 0)), r.Node.ID, r.Node.Type, r.Node.Summary)
	}
	return mcp.NewToolResultText(b.String()), nil
}
