// Package prompts implements MCP prompt handlers for the context engine.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// TaskPrompt handles the kenning-task MCP prompt.
// It walks the AI through one task: context, work, handoff, feedback.
type TaskPrompt struct{}

// NewTaskPrompt creates a TaskPrompt.
func NewTaskPrompt() *TaskPrompt {
	return &TaskPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *TaskPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("kenning-task",
		mcp.WithPromptDescription(
			"Work on one task with engine-computed context. "+
				"Loads the relevant patterns, warnings and prior work, then records "+
				"the handoff and feedback when the task is done.",
		),
		mcp.WithArgument("task_id",
			mcp.ArgumentDescription("Task ID from the task queue, e.g. TASK-012"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("complexity",
			mcp.ArgumentDescription("easy, normal or complex. Default: the queue entry, else normal"),
		),
	)
}

// Handle processes the kenning-task prompt request.
func (p *TaskPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	taskID := ""
	complexity := ""
	if args := req.Params.Arguments; args != nil {
		taskID = strings.ToUpper(strings.TrimSpace(args["task_id"]))
		complexity = strings.TrimSpace(args["complexity"])
	}
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	computeArgs := fmt.Sprintf("task_id='%s'", taskID)
	if complexity != "" {
		computeArgs += fmt.Sprintf(", complexity='%s'", complexity)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Work on %s", taskID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Let's work on %s.\n\n"+
						"Please:\n"+
						"1. Run `ctx_session_start` with task_id='%s'\n"+
						"2. Run `ctx_compute` with %s and follow its patterns and warnings. "+
						"Answer any blocking questions with me before writing code\n"+
						"3. While working, record what you try with `ctx_session_note`, and flag reusable "+
						"patterns, gotchas and decisions with discovery_kind\n"+
						"4. When done, run `ctx_ingest_handoff` with task_id='%s' and your handoff YAML block. "+
						"If it is rejected, fix the named field and submit again\n"+
						"5. Run `ctx_record_feedback` with the outcome and any signals "+
						"(context_insufficient if you had to search for context the engine did not give you)\n"+
						"6. Run `ctx_session_complete` and then `ctx_consolidate`",
					taskID, taskID, computeArgs, taskID,
				)),
			},
		},
	}, nil
}
