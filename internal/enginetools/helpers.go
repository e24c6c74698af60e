// Package enginetools provides the MCP tool handlers of the context engine.
//
// Every tool follows the same shape:
// - a struct holding the *engine.Engine injected via its constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// User errors (missing arguments, rejected records) are returned as tool
// result errors, never as Go errors, so the calling agent can correct them.
package enginetools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// listArg splits a comma- or newline-separated argument. A JSON array of
// strings is accepted as well.
func listArg(req mcp.CallToolRequest, key string) []string {
	return splitArg(req, key, func(r rune) bool { return r == ',' || r == '\n' })
}

// linesArg splits a newline-separated argument, dropping list bullets.
func linesArg(req mcp.CallToolRequest, key string) []string {
	return splitArg(req, key, func(r rune) bool { return r == '\n' })
}

func splitArg(req mcp.CallToolRequest, key string, sep func(rune) bool) []string {
	var raw []string
	switch v := req.GetArguments()[key].(type) {
	case string:
		raw = strings.FieldsFunc(v, sep)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "- "))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// taskParams are the task arguments shared by ctx_compute and
// ctx_assemble_prompt.
func taskParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("task_id",
			mcp.Description("Task ID, e.g. TASK-012. When the task queue has it, the remaining task fields default to the queue entry"),
		),
		mcp.WithString("objective",
			mcp.Description("What the task must achieve. Required unless the task is in the queue"),
		),
		mcp.WithString("acceptance_criteria",
			mcp.Description("Acceptance criteria, one per line"),
		),
		mcp.WithString("dependencies",
			mcp.Description("Comma-separated IDs of tasks this one depends on"),
		),
		mcp.WithString("complexity",
			mcp.Description("Complexity tier; bounds how much context is returned"),
			mcp.Enum(string(retrieval.Easy), string(retrieval.Normal), string(retrieval.Complex)),
		),
	}
}

// taskArg builds the task from the queue entry, if any, overridden by the
// explicit arguments.
func taskArg(ctx context.Context, e *engine.Engine, req mcp.CallToolRequest) retrieval.Task {
	id := req.GetString("task_id", "")
	var t retrieval.Task
	if id != "" {
		if qt, err := e.Task(ctx, id); err == nil {
			t = qt
		}
		t.ID = strings.ToUpper(id)
	}
	if v := req.GetString("objective", ""); v != "" {
		t.Objective = v
	}
	if v := linesArg(req, "acceptance_criteria"); len(v) > 0 {
		t.AcceptanceCriteria = v
	}
	if v := listArg(req, "dependencies"); len(v) > 0 {
		t.Dependencies = upperAll(v)
	}
	if v := req.GetString("complexity", ""); v != "" {
		t.Complexity = retrieval.Complexity(strings.ToLower(v))
	}
	return t
}

// upperAll returns ids in the canonical upper case the archive is keyed by.
func upperAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.ToUpper(id)
	}
	return out
}
