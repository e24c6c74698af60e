package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestTaskPrompt(t *testing.T) {
	p := NewTaskPrompt()
	if def := p.Definition(); def.Name != "kenning-task" {
		t.Errorf("prompt name = %q, want kenning-task", def.Name)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"task_id": "task-012", "complexity": "complex"}
	res, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
	text := res.Messages[0].Content.(mcp.TextContent).Text
	for _, want := range []string{"TASK-012", "ctx_compute", "complexity='complex'", "ctx_ingest_handoff", "ctx_record_feedback"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestTaskPrompt_RequiresTaskID(t *testing.T) {
	if _, err := NewTaskPrompt().Handle(context.Background(), mcp.GetPromptRequest{}); err == nil {
		t.Error("expected error without task_id")
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if def := p.Definition(); def.Name != "kenning-status" {
		t.Errorf("prompt name = %q, want kenning-status", def.Name)
	}
	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Messages[0].Content.(mcp.TextContent).Text, "ctx_rules") {
		t.Error("status prompt should mention ctx_rules")
	}
}
