package enginetools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
)

// ConsolidateTool handles the ctx_consolidate MCP tool.
type ConsolidateTool struct {
	engine *engine.Engine
}

// NewConsolidateTool creates a ConsolidateTool.
func NewConsolidateTool(e *engine.Engine) *ConsolidateTool {
	return &ConsolidateTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_consolidate.
func (t *ConsolidateTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_consolidate",
		mcp.WithDescription(
			"Move the session's discoveries into long-term memory and the knowledge graph, then reset "+
				"the working session. Safe to call repeatedly: known discoveries are not duplicated.",
		),
		mcp.WithBoolean("async",
			mcp.Description("Queue the consolidation and return immediately (default: false)"),
		),
	)
}

// Handle processes the ctx_consolidate tool call.
func (t *ConsolidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if boolArg(req, "async", false) {
		t.engine.ConsolidateAsync(ctx)
		return mcp.NewToolResultText("Consolidation queued"), nil
	}

	res, err := t.engine.Consolidate(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("consolidation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Session consolidated\nKnowledge nodes created: %d\nAlready known: %d\nLong-term memory entries added: %d",
		len(res.NodesCreated), res.NodesExisting, res.ColdAppended,
	)), nil
}
