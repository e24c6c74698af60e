package enginetools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/state"
)

// SessionStartTool handles the ctx_session_start MCP tool.
type SessionStartTool struct {
	engine *engine.Engine
}

// NewSessionStartTool creates a SessionStartTool.
func NewSessionStartTool(e *engine.Engine) *SessionStartTool {
	return &SessionStartTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_session_start.
func (t *SessionStartTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_session_start",
		mcp.WithDescription(
			"Make a task the active task of the working session. Call this when you pick up a task.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("objective",
			mcp.Description("Objective (default: the task queue entry)"),
		),
		mcp.WithString("phase",
			mcp.Description("Current phase, e.g. explore, build, verify"),
		),
	)
}

// Handle processes the ctx_session_start tool call.
func (t *SessionStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	objective := req.GetString("objective", "")
	if objective == "" {
		if task, err := t.engine.Task(ctx, taskID); err == nil {
			objective = task.Objective
		}
	}

	if err := t.engine.State().StartTask(ctx, taskID, objective, req.GetString("phase", "")); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s is now active", taskID)), nil
}

// ─── SessionNoteTool ────────────────────────────────────────────────────────

// SessionNoteTool handles the ctx_session_note MCP tool.
type SessionNoteTool struct {
	engine *engine.Engine
}

// NewSessionNoteTool creates a SessionNoteTool.
func NewSessionNoteTool(e *engine.Engine) *SessionNoteTool {
	return &SessionNoteTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_session_note.
func (t *SessionNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_session_note",
		mcp.WithDescription(
			"Record an approach you tried and what came of it in working memory. Flag reusable "+
				"knowledge with discovery_kind; discoveries become knowledge nodes at consolidation.",
		),
		mcp.WithString("tried",
			mcp.Required(),
			mcp.Description("What you tried"),
		),
		mcp.WithString("result",
			mcp.Description("What happened"),
		),
		mcp.WithString("hypothesis",
			mcp.Description("Why you expected it to work"),
		),
		mcp.WithString("discovery_kind",
			mcp.Description("Flags the note as a discovery"),
			mcp.Enum(string(state.DiscoveryPattern), string(state.DiscoveryGotcha), string(state.DiscoveryDecision)),
		),
		mcp.WithString("discovery_summary",
			mcp.Description("One-line summary of the discovery (max 100 chars kept)"),
		),
		mcp.WithString("location",
			mcp.Description("File or symbol the discovery is about"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags for the discovery"),
		),
	)
}

// Handle processes the ctx_session_note tool call.
func (t *SessionNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := state.Attempt{
		Hypothesis: req.GetString("hypothesis", ""),
		Tried:      req.GetString("tried", ""),
		Result:     req.GetString("result", ""),
	}
	if kind := req.GetString("discovery_kind", ""); kind != "" {
		summary := req.GetString("discovery_summary", "")
		if summary == "" {
			summary = a.Result
		}
		a.Discovery = &state.Discovery{
			Kind:     state.DiscoveryKind(kind),
			Summary:  summary,
			Location: req.GetString("location", ""),
			Tags:     listArg(req, "tags"),
		}
	}

	if err := t.engine.State().RecordAttempt(ctx, a); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record note: %v", err)), nil
	}
	if a.Discovery != nil {
		return mcp.NewToolResultText(fmt.Sprintf("Discovery recorded (%s): %s", a.Discovery.Kind, a.Discovery.Summary)), nil
	}
	return mcp.NewToolResultText("Note recorded"), nil
}

// ─── SessionTrackTool ───────────────────────────────────────────────────────

// SessionTrackTool handles the ctx_session_track MCP tool.
type SessionTrackTool struct {
	engine *engine.Engine
}

// NewSessionTrackTool creates a SessionTrackTool.
func NewSessionTrackTool(e *engine.Engine) *SessionTrackTool {
	return &SessionTrackTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_session_track.
func (t *SessionTrackTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_session_track",
		mcp.WithDescription(
			"Update the short-lived parts of the working session: the immediate checklist, what you "+
				"are waiting for, and files worth keeping at hand.",
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("todo adds a checklist item, toggle flips one, wait/unwait manage the waiting list, ref remembers a file, phase sets the phase"),
			mcp.Enum("todo", "toggle", "wait", "unwait", "ref", "phase"),
		),
		mcp.WithString("text",
			mcp.Description("Checklist item, waiting item, file path or phase"),
		),
		mcp.WithString("note",
			mcp.Description("Why the file matters (action ref)"),
		),
		mcp.WithNumber("index",
			mcp.Description("0-based checklist index (action toggle)"),
		),
	)
}

// Handle processes the ctx_session_track tool call.
func (t *SessionTrackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := t.engine.State()
	text := req.GetString("text", "")

	var err error
	switch action := req.GetString("action", ""); action {
	case "todo":
		err = st.AddImmediateTask(ctx, text)
	case "toggle":
		err = st.ToggleTask(ctx, intArg(req, "index", -1))
	case "wait":
		err = st.AddWaiting(ctx, text)
	case "unwait":
		err = st.ResolveWaiting(ctx, text)
	case "ref":
		err = st.AddQuickRef(ctx, text, req.GetString("note", ""))
	case "phase":
		err = st.SetPhase(ctx, text)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update session: %v", err)), nil
	}
	return mcp.NewToolResultText("Session updated"), nil
}

// ─── SessionCompleteTool ────────────────────────────────────────────────────

// SessionCompleteTool handles the ctx_session_complete MCP tool.
type SessionCompleteTool struct {
	engine *engine.Engine
}

// NewSessionCompleteTool creates a SessionCompleteTool.
func NewSessionCompleteTool(e *engine.Engine) *SessionCompleteTool {
	return &SessionCompleteTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_session_complete.
func (t *SessionCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_session_complete",
		mcp.WithDescription(
			"Close the active task: its summary goes to session history and task-scoped working "+
				"state is cleared. Discoveries are kept until ctx_consolidate.",
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What was accomplished"),
		),
	)
}

// Handle processes the ctx_session_complete tool call.
func (t *SessionCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := req.GetString("summary", "")
	if summary == "" {
		return mcp.NewToolResultError("'summary' is required"), nil
	}
	taskID := t.engine.State().Hot().CurrentContext.ActiveTaskID

	err := t.engine.Write(ctx, "complete task", func(ctx context.Context) error {
		return t.engine.State().CompleteTask(ctx, summary)
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to complete task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s completed", taskID)), nil
}

// ─── SessionShowTool ────────────────────────────────────────────────────────

// SessionShowTool handles the ctx_session_show MCP tool.
type SessionShowTool struct {
	engine *engine.Engine
}

// NewSessionShowTool creates a SessionShowTool.
func NewSessionShowTool(e *engine.Engine) *SessionShowTool {
	return &SessionShowTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_session_show.
func (t *SessionShowTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_session_show",
		mcp.WithDescription("Show the working session and the active blockers."),
	)
}

// Handle processes the ctx_session_show tool call.
func (t *SessionShowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := yaml.Marshal(t.engine.State().Hot())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render session: %v", err)), nil
	}

	var b strings.Builder
	b.Write(data)
	if blockers := t.engine.State().ActiveBlockers(); len(blockers) > 0 {
		b.WriteString("\nactive blockers:\n")
		for _, bl := range blockers {
			fmt.Fprintf(&b, "- [%s] %s", bl.ID, bl.Description)
			if len(bl.AffectedTasks) > 0 {
				fmt.Fprintf(&b, " (affects %s)", strings.Join(bl.AffectedTasks, ", "))
			}
			b.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
