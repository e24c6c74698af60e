package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the kenning-status MCP prompt.
// It instructs the AI to present the working session and learned rules.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("kenning-status",
		mcp.WithPromptDescription(
			"Check where the current work stands: active task, open blockers, "+
				"pending discoveries and the strategy rules learned so far.",
		),
	)
}

// Handle processes the kenning-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Kenning status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `ctx_session_show` and `ctx_rules`.\n\n" +
						"Then:\n" +
						"1. Tell me which task is active and what it is waiting for\n" +
						"2. List active blockers and the tasks they affect\n" +
						"3. Point out discoveries that have not been consolidated yet\n" +
						"4. Summarize rules with medium or high confidence and any that need review",
				),
			},
		},
	}, nil
}
