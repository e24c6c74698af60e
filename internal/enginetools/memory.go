package enginetools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/state"
)

// RememberTool handles the ctx_remember MCP tool.
type RememberTool struct {
	engine *engine.Engine
}

// NewRememberTool creates a RememberTool.
func NewRememberTool(e *engine.Engine) *RememberTool {
	return &RememberTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_remember.
func (t *RememberTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_remember",
		mcp.WithDescription(
			"Append to long-term project memory. Entries are never edited: a new understanding or "+
				"preference supersedes the previous one, decisions and strategy notes accumulate.",
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Enum("decision", "understanding", "preference", "strategy_note"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Decision summary, project understanding, preference value or note"),
		),
		mcp.WithString("rationale",
			mcp.Description("Why the decision was made (kind decision)"),
		),
		mcp.WithString("location",
			mcp.Description("Where the decision applies (kind decision)"),
		),
		mcp.WithString("key",
			mcp.Description("Preference name (kind preference)"),
		),
	)
}

// Handle processes the ctx_remember tool call.
func (t *RememberTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	st := t.engine.State()
	kind := req.GetString("kind", "")

	var fn func(context.Context) error
	switch kind {
	case "decision":
		d := state.Decision{
			Summary:   text,
			Rationale: req.GetString("rationale", ""),
			Location:  req.GetString("location", ""),
			TaskID:    st.Hot().CurrentContext.ActiveTaskID,
		}
		fn = func(ctx context.Context) error { return st.AddDecision(ctx, d) }
	case "understanding":
		fn = func(ctx context.Context) error { return st.SetUnderstanding(ctx, text) }
	case "preference":
		key := req.GetString("key", "")
		fn = func(ctx context.Context) error { return st.SetPreference(ctx, key, text) }
	case "strategy_note":
		fn = func(ctx context.Context) error { return st.AddStrategyNote(ctx, text) }
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}

	if err := t.engine.Write(ctx, "remember "+kind, fn); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save %s: %v", kind, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved %s", kind)), nil
}

// ─── BlockerTool ────────────────────────────────────────────────────────────

// BlockerTool handles the ctx_blocker MCP tool.
type BlockerTool struct {
	engine *engine.Engine
}

// NewBlockerTool creates a BlockerTool.
func NewBlockerTool(e *engine.Engine) *BlockerTool {
	return &BlockerTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_blocker.
func (t *BlockerTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_blocker",
		mcp.WithDescription(
			"Report a blocker or resolve an active one. Active blockers are shown to every task they affect.",
		),
		mcp.WithString("description",
			mcp.Description("What is blocked (to report a blocker)"),
		),
		mcp.WithString("affected_tasks",
			mcp.Description("Comma-separated IDs of tasks the blocker affects"),
		),
		mcp.WithString("resolve",
			mcp.Description("ID of an active blocker to resolve"),
		),
		mcp.WithString("resolution",
			mcp.Description("How it was resolved"),
		),
	)
}

// Handle processes the ctx_blocker tool call.
func (t *BlockerTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := t.engine.State()

	if id := req.GetString("resolve", ""); id != "" {
		resolution := req.GetString("resolution", "")
		err := t.engine.Write(ctx, "resolve blocker", func(ctx context.Context) error {
			return st.ResolveBlocker(ctx, id, resolution)
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to resolve blocker: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Blocker %s resolved", id)), nil
	}

	description := req.GetString("description", "")
	if description == "" {
		return mcp.NewToolResultError("'description' or 'resolve' is required"), nil
	}
	b := state.Blocker{
		Description:   description,
		AffectedTasks: listArg(req, "affected_tasks"),
		TaskID:        st.Hot().CurrentContext.ActiveTaskID,
	}
	var id string
	err := t.engine.Write(ctx, "add blocker", func(ctx context.Context) error {
		var err error
		id, err = st.AddBlocker(ctx, b)
		return err
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record blocker: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Blocker recorded (ID: %s)", id)), nil
}
