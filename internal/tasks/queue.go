// Package tasks reads the orchestrator's task queue and tracks task
// completion.
//
// The queue is a markdown file of task sections:
//
//	### TASK-001: Add login endpoint
//
//	| Field | Value |
//	|-------|-------|
//	| Priority | high |
//	| Status | pending |
//	| Depends On | TASK-000 |
//
//	---
//
//	**Description:** Users can log in with email and password.
//	**Acceptance:**
//	- returns a token
//
// Metadata may also be written as bold lines (**Status:** pending).
package tasks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
)

// Task is one entry of the queue.
type Task struct {
	ID                 string   `json:"id"`
	Kind               string   `json:"kind"` // TASK, BUILD or TEST
	Title              string   `json:"title"`
	Priority           string   `json:"priority,omitempty"`
	Status             string   `json:"status,omitempty"`
	Category           string   `json:"category,omitempty"`
	Complexity         string   `json:"complexity,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Skills             []string `json:"skills,omitempty"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// Objective is the title followed by the description.
func (t Task) Objective() string {
	switch {
	case t.Description == "":
		return t.Title
	case t.Title == "":
		return t.Description
	}
	return t.Title + ": " + t.Description
}

var (
	idPattern     = regexp.MustCompile(`TASK-\d+(?:-\d+)?`)
	headerPattern = regexp.MustCompile(`^#{3,4}\s+((?:TASK|BUILD|TEST)[-\w]*)\s*:?\s*(.*)$`)
	sectionBreak  = regexp.MustCompile(`^#{1,2}\s+`)
	boldField     = regexp.MustCompile(`^\*\*([\w ]+?):\*\*\s*(.*)$`)
	tableRow      = regexp.MustCompile(`^\|\s*([^|]+?)\s*\|\s*(.*?)\s*\|\s*$`)
	listItem      = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s+(.*)$`)
)

// FindTaskID returns the first task id (TASK-001, TASK-001-2) in text, or "".
func FindTaskID(text string) string {
	return idPattern.FindString(text)
}

// Parse reads every task section of a queue document. Sections without an
// id are skipped.
func Parse(text string) []Task {
	var (
		out   []Task
		cur   *Task
		field string // current prose field
	)
	flush := func() {
		if cur != nil && cur.ID != "" {
			cur.Description = strings.TrimSpace(cur.Description)
			out = append(out, *cur)
		}
		cur, field = nil, ""
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t")
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Task{Kind: kindOf(m[1]), Title: strings.TrimSpace(strings.TrimLeft(m[2], "-: ")), ID: FindTaskID(m[1])}
			if cur.ID == "" {
				// BUILD-012 style headers keep their own label as the id.
				cur.ID = strings.TrimSpace(m[1])
			}
			continue
		}
		if cur == nil {
			continue
		}
		if sectionBreak.MatchString(line) {
			flush()
			continue
		}

		if m := tableRow.FindStringSubmatch(line); m != nil {
			k, v := m[1], m[2]
			if strings.EqualFold(k, "field") || strings.Trim(k, "-: ") == "" {
				continue
			}
			cur.set(k, v)
			continue
		}
		if m := boldField.FindStringSubmatch(line); m != nil {
			if cur.set(m[1], m[2]) {
				field = ""
				continue
			}
			field = strings.ToLower(m[1])
			cur.prose(field, m[2])
			continue
		}
		if strings.TrimSpace(line) == "---" {
			continue
		}
		if field != "" {
			cur.prose(field, line)
		}
	}
	flush()
	return out
}

func kindOf(label string) string {
	for _, k := range []string{"BUILD", "TEST"} {
		if strings.HasPrefix(label, k) {
			return k
		}
	}
	return "TASK"
}

// set stores a metadata field. It reports false for prose fields.
func (t *Task) set(key, value string) bool {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "priority":
		t.Priority = strings.ToLower(value)
	case "status":
		t.Status = strings.ToLower(value)
	case "category":
		t.Category = value
	case "complexity":
		t.Complexity = strings.ToLower(value)
	case "depends on", "dependencies":
		t.DependsOn = idPattern.FindAllString(value, -1)
	case "skills":
		t.Skills = splitList(value)
	default:
		return false
	}
	return true
}

func (t *Task) prose(field, line string) {
	switch field {
	case "description":
		if strings.TrimSpace(line) != "" {
			t.Description += strings.TrimSpace(line) + " "
		}
	case "acceptance", "acceptance criteria", "expected result", "steps":
		line = strings.TrimSpace(line)
		if m := listItem.FindStringSubmatch(line); m != nil {
			line = m[1]
		}
		if line != "" {
			t.AcceptanceCriteria = append(t.AcceptanceCriteria, line)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" && p != "-" {
			out = append(out, p)
		}
	}
	return out
}

// Queue is a task queue file.
type Queue struct {
	path string
	opts persist.Options
}

// NewQueue returns the queue stored at path.
func NewQueue(path string, opts persist.Options) *Queue {
	return &Queue{path: path, opts: opts}
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.path }

// Load parses the queue file.
func (q *Queue) Load(ctx context.Context) ([]Task, error) {
	data, err := persist.ReadFile(ctx, q.path, q.opts)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.NotFound("task queue", q.path)
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: read queue: %w", err)
	}
	return Parse(string(data)), nil
}

// Get returns the task with id.
func (q *Queue) Get(ctx context.Context, id string) (Task, error) {
	all, err := q.Load(ctx)
	if err != nil {
		return Task{}, err
	}
	for _, t := range all {
		if strings.EqualFold(t.ID, id) {
			return t, nil
		}
	}
	return Task{}, errs.NotFound("task", id)
}
