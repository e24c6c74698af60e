package tasks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/tasks"
)

const queue = `# Task Queue

## BUILD Tasks

### TASK-001: Add login endpoint

| Field | Value |
|-------|-------|
| Priority | High |
| Status | completed |
| Category | backend |
| Complexity | normal |

---

**Description:** Users can log in
with email and password.
**Acceptance:**
- returns a token
- rejects bad passwords

### TASK-002: Add logout

**Priority:** medium
**Status:** pending
**Depends On:** TASK-001, TASK-000
**Skills:** go-api, auth
**Complexity:** Easy
**Description:** Invalidate the session.

#### TEST-003 - Login flow

**Status:** pending
**Steps:**
1. open the page
2. submit the form

## Notes

### Not a task
`

func TestParse(t *testing.T) {
	got := tasks.Parse(queue)
	want := []tasks.Task{
		{
			ID: "TASK-001", Kind: "TASK", Title: "Add login endpoint",
			Priority: "high", Status: "completed", Category: "backend", Complexity: "normal",
			Description:        "Users can log in with email and password.",
			AcceptanceCriteria: []string{"returns a token", "rejects bad passwords"},
		},
		{
			ID: "TASK-002", Kind: "TASK", Title: "Add logout",
			Priority: "medium", Status: "pending", Complexity: "easy",
			DependsOn:   []string{"TASK-001", "TASK-000"},
			Skills:      []string{"go-api", "auth"},
			Description: "Invalidate the session.",
		},
		{
			ID: "TEST-003", Kind: "TEST", Title: "Login flow", Status: "pending",
			AcceptanceCriteria: []string{"open the page", "submit the form"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskObjective(t *testing.T) {
	tests := []struct {
		task tasks.Task
		want string
	}{
		{tasks.Task{Title: "Add logout"}, "Add logout"},
		{tasks.Task{Description: "Invalidate"}, "Invalidate"},
		{tasks.Task{Title: "Add logout", Description: "Invalidate"}, "Add logout: Invalidate"},
	}
	for _, tt := range tests {
		if got := tt.task.Objective(); got != tt.want {
			t.Errorf("Objective() = %q, want %q", got, tt.want)
		}
	}
}

func TestFindTaskID(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Working on TASK-042 now", "TASK-042"},
		{"subtask TASK-042-3 then TASK-050", "TASK-042-3"},
		{"write .orchestrator/complete/TASK-007.done", "TASK-007"},
		{"no id here", ""},
	}
	for _, tt := range tests {
		if got := tasks.FindTaskID(tt.text); got != tt.want {
			t.Errorf("FindTaskID(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_queue.md")
	q := tasks.NewQueue(path, persist.DefaultOptions())
	ctx := context.Background()

	if _, err := q.Load(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Load on missing file = %v, want not found", err)
	}
	if err := os.WriteFile(path, []byte(queue), 0o644); err != nil {
		t.Fatal(err)
	}

	task, err := q.Get(ctx, "task-002")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Title != "Add logout" {
		t.Errorf("Title = %q", task.Title)
	}
	if _, err := q.Get(ctx, "TASK-999"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get unknown = %v, want not found", err)
	}
}
