package enginetools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/handoff"
)

// IngestHandoffTool handles the ctx_ingest_handoff MCP tool.
type IngestHandoffTool struct {
	engine *engine.Engine
}

// NewIngestHandoffTool creates an IngestHandoffTool.
func NewIngestHandoffTool(e *engine.Engine) *IngestHandoffTool {
	return &IngestHandoffTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_ingest_handoff.
func (t *IngestHandoffTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_ingest_handoff",
		mcp.WithDescription(
			"Submit the structured handoff of a finished task. The handoff is a YAML block "+
				"(fenced ```yaml or under a '## Handoff' heading) with outcome, files, patterns_discovered, "+
				"gotchas, dependencies_for_next, open_questions, suggested_next_steps and, unless the outcome "+
				"is completed, blockers. Invalid handoffs are rejected whole with the offending field.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID the handoff belongs to, e.g. TASK-012"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Agent output containing the handoff YAML block"),
		),
	)
}

// Handle processes the ctx_ingest_handoff tool call.
func (t *IngestHandoffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}

	res, err := t.engine.IngestHandoff(ctx, taskID, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatResult(res)), nil
}

func formatResult(res *handoff.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Handoff for %s accepted (outcome: %s)\n", res.TaskID, res.Outcome)
	fmt.Fprintf(&b, "Knowledge nodes created: %d\n", len(res.NodesCreated))
	if len(res.BlockerIDs) > 0 {
		fmt.Fprintf(&b, "Blockers recorded: %s\n", strings.Join(res.BlockerIDs, ", "))
	}
	if len(res.DependenciesForNext) > 0 {
		b.WriteString("\nFor the next task:\n")
		for _, d := range res.DependenciesForNext {
			fmt.Fprintf(&b, "- %s", d.File)
			if d.Reason != "" {
				fmt.Fprintf(&b, ": %s", d.Reason)
			}
			b.WriteString("\n")
		}
	}
	if len(res.SuggestedNextSteps) > 0 {
		b.WriteString("\nSuggested next steps:\n")
		for _, s := range res.SuggestedNextSteps {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}
