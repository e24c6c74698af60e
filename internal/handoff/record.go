// Package handoff parses, validates and ingests task handoff records.
//
// A handoff is the structured YAML block an executing task emits when it
// stops. Records are accepted whole or rejected whole.
package handoff

// Outcome is how a task ended.
type Outcome string

// Outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
)

// NeedsBlockers reports whether a record with this outcome must list
// blockers.
func (o Outcome) NeedsBlockers() bool {
	return o == OutcomePartial || o == OutcomeFailed || o == OutcomeBlocked
}

// Severity ranks a gotcha.
type Severity string

// Severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// FileChange describes a file a task created or modified.
type FileChange struct {
	Path        string `yaml:"path" json:"path" validate:"required"`
	Purpose     string `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ChangeType  string `yaml:"change_type,omitempty" json:"change_type,omitempty"`
	Lines       string `yaml:"lines,omitempty" json:"lines,omitempty"`
}

// What returns the purpose, falling back to the description.
func (f FileChange) What() string {
	if f.Purpose != "" {
		return f.Purpose
	}
	return f.Description
}

// Pattern is a reusable approach a task discovered.
type Pattern struct {
	Pattern   string   `yaml:"pattern" json:"pattern" validate:"required"`
	Location  string   `yaml:"location,omitempty" json:"location,omitempty"`
	AppliesTo []string `yaml:"applies_to,omitempty" json:"applies_to,omitempty"`
}

// Gotcha is a trap a task ran into.
type Gotcha struct {
	Issue      string   `yaml:"issue" json:"issue" validate:"required"`
	Mitigation string   `yaml:"mitigation,omitempty" json:"mitigation,omitempty"`
	Severity   Severity `yaml:"severity" json:"severity" validate:"required,oneof=high medium low"`
	AppliesTo  []string `yaml:"applies_to,omitempty" json:"applies_to,omitempty"`
}

// Dependency is a file the next task should read.
type Dependency struct {
	File   string `yaml:"file" json:"file" validate:"required"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// OpenQuestion is something the task could not decide.
type OpenQuestion struct {
	Question       string `yaml:"question" json:"question" validate:"required"`
	Recommendation string `yaml:"recommendation,omitempty" json:"recommendation,omitempty"`
	Blocking       bool   `yaml:"blocking" json:"blocking"`
}

// Blocker is an impediment that stopped or limited the task.
type Blocker struct {
	Description   string   `yaml:"description" json:"description" validate:"required"`
	Resolution    string   `yaml:"resolution,omitempty" json:"resolution,omitempty"`
	AffectedTasks []string `yaml:"affected_tasks,omitempty" json:"affected_tasks,omitempty"`
}

// Record is a task handoff.
type Record struct {
	TaskID              string         `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	Outcome             Outcome        `yaml:"outcome" json:"outcome" validate:"required,oneof=completed partial failed blocked"`
	Summary             string         `yaml:"summary,omitempty" json:"summary,omitempty"`
	Tags                []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	FilesCreated        []FileChange   `yaml:"files_created,omitempty" json:"files_created,omitempty" validate:"dive"`
	FilesModified       []FileChange   `yaml:"files_modified,omitempty" json:"files_modified,omitempty" validate:"dive"`
	PatternsDiscovered  []Pattern      `yaml:"patterns_discovered,omitempty" json:"patterns_discovered,omitempty" validate:"dive"`
	Gotchas             []Gotcha       `yaml:"gotchas,omitempty" json:"gotchas,omitempty" validate:"dive"`
	DependenciesForNext []Dependency   `yaml:"dependencies_for_next,omitempty" json:"dependencies_for_next,omitempty" validate:"dive"`
	OpenQuestions       []OpenQuestion `yaml:"open_questions,omitempty" json:"open_questions,omitempty" validate:"dive"`
	SuggestedNextSteps  []string       `yaml:"suggested_next_steps,omitempty" json:"suggested_next_steps,omitempty" validate:"dive,required"`
	Blockers            []Blocker      `yaml:"blockers,omitempty" json:"blockers,omitempty" validate:"dive"`
}

// BlockingQuestions returns the open questions marked blocking.
func (r *Record) BlockingQuestions() []OpenQuestion {
	var out []OpenQuestion
	for _, q := range r.OpenQuestions {
		if q.Blocking {
			out = append(out, q)
		}
	}
	return out
}

// Result is what a successful ingestion hands to the next task.
type Result struct {
	TaskID              string       `json:"task_id"`
	Outcome             Outcome      `json:"outcome"`
	NodesCreated        []string     `json:"nodes_created"`
	BlockerIDs          []string     `json:"blocker_ids,omitempty"`
	DependenciesForNext []Dependency `json:"dependencies_for_next"`
	SuggestedNextSteps  []string     `json:"suggested_next_steps"`
}
