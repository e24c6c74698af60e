package enginetools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/prompt"
	"github.com/HendryAvila/kenning/internal/retrieval"
)

// ComputeTool handles the ctx_compute MCP tool.
type ComputeTool struct {
	engine *engine.Engine
}

// NewComputeTool creates a ComputeTool.
func NewComputeTool(e *engine.Engine) *ComputeTool {
	return &ComputeTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_compute.
func (t *ComputeTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Compute the minimal context an agent needs for one task: patterns to follow, warnings, " +
				"relevant decisions, prior work, code references and blocking questions from completed " +
				"dependencies. Output is bounded by the task's complexity tier.",
		),
	}
	opts = append(opts, taskParams()...)
	opts = append(opts,
		mcp.WithString("detail_level",
			mcp.Description("summary (titles only), standard (default) or full (adds refs, scores and debug info)"),
			mcp.Enum(retrieval.DetailLevelValues()...),
		),
	)
	return mcp.NewTool("ctx_compute", opts...)
}

// Handle processes the ctx_compute tool call.
func (t *ComputeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := taskArg(ctx, t.engine, req)
	if task.Objective == "" {
		return mcp.NewToolResultError("'objective' is required when the task is not in the queue"), nil
	}

	cc, err := t.engine.ComputeContext(ctx, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute context: %v", err)), nil
	}

	text := cc.Render(req.GetString("detail_level", retrieval.DetailStandard))
	return mcp.NewToolResultText(text + retrieval.TokenFooter(retrieval.EstimateTokens(text))), nil
}

// ─── AssemblePromptTool ─────────────────────────────────────────────────────

// AssemblePromptTool handles the ctx_assemble_prompt MCP tool.
type AssemblePromptTool struct {
	engine *engine.Engine
}

// NewAssemblePromptTool creates an AssemblePromptTool.
func NewAssemblePromptTool(e *engine.Engine) *AssemblePromptTool {
	return &AssemblePromptTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_assemble_prompt.
func (t *AssemblePromptTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Assemble the full prompt for a task. The prefix (role, rules, handoff format and skills) " +
				"is byte-identical for the same skill set and is identified by cache_key; the suffix " +
				"carries the task and its computed context.",
		),
		mcp.WithString("skills",
			mcp.Description(`JSON array of skills: [{"id":"go-api","name":"Go API","content":"..."}]`),
		),
	}
	opts = append(opts, taskParams()...)
	opts = append(opts,
		mcp.WithString("detail_level",
			mcp.Description("Detail level of the rendered context: summary, standard (default) or full"),
			mcp.Enum(retrieval.DetailLevelValues()...),
		),
		mcp.WithBoolean("metadata_only",
			mcp.Description("Return only the cache key and token estimates (default: false)"),
		),
	)
	return mcp.NewTool("ctx_assemble_prompt", opts...)
}

// Handle processes the ctx_assemble_prompt tool call.
func (t *AssemblePromptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var skills []prompt.Skill
	if raw := req.GetString("skills", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &skills); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'skills' must be a JSON array of {id, name, content}: %v", err)), nil
		}
	}
	for i, s := range skills {
		if strings.TrimSpace(s.ID) == "" {
			return mcp.NewToolResultError(fmt.Sprintf("skills[%d]: 'id' is required", i)), nil
		}
	}

	task := taskArg(ctx, t.engine, req)
	if task.Objective == "" {
		return mcp.NewToolResultError("'objective' is required when the task is not in the queue"), nil
	}
	cc, err := t.engine.ComputeContext(ctx, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute context: %v", err)), nil
	}

	p := t.engine.AssemblePrompt(skills, cc, task, prompt.WithDetail(req.GetString("detail_level", "")))

	var b strings.Builder
	fmt.Fprintf(&b, "cache_key: %s\nskills: %s\nprefix_tokens: ~%d\nsuffix_tokens: ~%d\n",
		p.CacheKey, strings.Join(p.SkillIDs, ", "), p.PrefixTokens, p.SuffixTokens)
	if !boolArg(req, "metadata_only", false) {
		b.WriteString("\n")
		b.WriteString(p.Text())
	}
	return mcp.NewToolResultText(b.String()), nil
}
