package enginetools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/retrieval"
	"github.com/HendryAvila/kenning/internal/strategy"
)

// RecordFeedbackTool handles the ctx_record_feedback MCP tool.
type RecordFeedbackTool struct {
	engine *engine.Engine
}

// NewRecordFeedbackTool creates a RecordFeedbackTool.
func NewRecordFeedbackTool(e *engine.Engine) *RecordFeedbackTool {
	return &RecordFeedbackTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_record_feedback.
func (t *RecordFeedbackTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_record_feedback",
		mcp.WithDescription(
			"Record how a task execution went so the engine can adapt: repeated failures with the same "+
				"skills become anti-patterns, beneficial pairings become skill_pairing rules, "+
				"context_insufficient raises the tier's context limits and model_inadequate records a "+
				"model override.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID the feedback is about"),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("How the task ended"),
			mcp.Enum(string(handoff.OutcomeCompleted), string(handoff.OutcomePartial), string(handoff.OutcomeFailed), string(handoff.OutcomeBlocked)),
		),
		mcp.WithString("signals",
			mcp.Description("Comma-separated signals: skill_mismatch, missing_skill, wrong_approach, context_insufficient, model_inadequate, beneficial_pairing"),
		),
		mcp.WithString("skills",
			mcp.Description("Comma-separated skill IDs the agent ran with"),
		),
		mcp.WithString("complexity",
			mcp.Description("Complexity tier of the task (default: normal)"),
			mcp.Enum(string(retrieval.Easy), string(retrieval.Normal), string(retrieval.Complex)),
		),
		mcp.WithString("model",
			mcp.Description("Model the agent ran on"),
		),
		mcp.WithString("notes",
			mcp.Description("Free-form notes"),
		),
	)
}

// Handle processes the ctx_record_feedback tool call.
func (t *RecordFeedbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := strategy.Event{
		TaskID:     req.GetString("task_id", ""),
		Outcome:    handoff.Outcome(req.GetString("outcome", "")),
		Skills:     listArg(req, "skills"),
		Complexity: retrieval.Complexity(req.GetString("complexity", "")),
		Model:      req.GetString("model", ""),
		Notes:      req.GetString("notes", ""),
	}
	for _, s := range listArg(req, "signals") {
		ev.Signals = append(ev.Signals, strategy.Signal(strings.ToLower(s)))
	}

	out, err := t.engine.RecordFeedback(ctx, ev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("feedback rejected: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Feedback recorded (event %s)\n", out.EventID)
	writeRules(&b, "Created", out.Created)
	writeRules(&b, "Updated", out.Updated)
	writeRules(&b, "Decayed", out.Decayed)
	writeRules(&b, "Moved to review", out.NeedsReview)
	if len(out.Changed())+len(out.Decayed)+len(out.NeedsReview) == 0 {
		b.WriteString("No rules changed.\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func writeRules(b *strings.Builder, title string, rules []strategy.Rule) {
	if len(rules) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, r := range rules {
		fmt.Fprintf(b, "- [%s] %s: %s → %s (confidence: %s, evidence: %d)\n",
			r.ID, r.Kind, r.Condition, r.Effect, r.Confidence, r.EvidenceCount)
	}
}

// ─── RulesTool ──────────────────────────────────────────────────────────────

// RulesTool handles the ctx_rules MCP tool.
type RulesTool struct {
	engine *engine.Engine
}

// NewRulesTool creates a RulesTool.
func NewRulesTool(e *engine.Engine) *RulesTool {
	return &RulesTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_rules.
func (t *RulesTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_rules",
		mcp.WithDescription(
			"Show the learned strategy rules as a markdown table, including rules that decayed and "+
				"need review. Pass 'apply' to mark a rule as applied to the current task, which keeps it "+
				"from decaying.",
		),
		mcp.WithString("apply",
			mcp.Description("ID of an active rule that was applied"),
		),
	)
}

// Handle processes the ctx_rules tool call.
func (t *RulesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("apply", ""); id != "" {
		if err := t.engine.ApplyRule(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to apply rule: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Rule %s marked as applied", id)), nil
	}
	return mcp.NewToolResultText(t.engine.Strategy().RulesTable()), nil
}
