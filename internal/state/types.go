package state

import (
	"slices"
	"time"
)

// ─── Hot state ──────────────────────────────────────────────────────────────

// CurrentContext describes what the session is working on right now.
type CurrentContext struct {
	Objective    string `yaml:"objective"`
	Phase        string `yaml:"phase"`
	ActiveTaskID string `yaml:"active_task_id"`
}

// DiscoveryKind is the knowledge a working-memory entry turned up.
type DiscoveryKind string

// Discovery kinds. Only these are migrated to the knowledge graph.
const (
	DiscoveryPattern  DiscoveryKind = "pattern"
	DiscoveryGotcha   DiscoveryKind = "gotcha"
	DiscoveryDecision DiscoveryKind = "decision"
)

// Valid reports whether k is a known discovery kind.
func (k DiscoveryKind) Valid() bool {
	switch k {
	case DiscoveryPattern, DiscoveryGotcha, DiscoveryDecision:
		return true
	}
	return false
}

// Discovery flags a working-memory entry as reusable knowledge.
type Discovery struct {
	Kind     DiscoveryKind `yaml:"kind"`
	Summary  string        `yaml:"summary"`
	Location string        `yaml:"location,omitempty"`
	Tags     []string      `yaml:"tags,omitempty"`
}

// Attempt is one working-memory entry: an approach and what came of it.
type Attempt struct {
	Hypothesis string     `yaml:"hypothesis"`
	Tried      string     `yaml:"tried"`
	Result     string     `yaml:"result"`
	Discovery  *Discovery `yaml:"discovery,omitempty"`
	TaskID     string     `yaml:"task_id,omitempty"`
	At         time.Time  `yaml:"at"`
}

// ChecklistItem is one immediate task.
type ChecklistItem struct {
	Text string `yaml:"text"`
	Done bool   `yaml:"done"`
}

// Waiting is something the session is blocked on.
type Waiting struct {
	Item  string    `yaml:"item"`
	Since time.Time `yaml:"since"`
}

// QuickRef points at a file worth keeping at hand.
type QuickRef struct {
	File string `yaml:"file"`
	Note string `yaml:"note"`
}

// Session is the hot state. It is overwritten wholesale on every save.
type Session struct {
	SessionID      string          `yaml:"session_id"`
	StartedAt      time.Time       `yaml:"started_at"`
	UpdatedAt      time.Time       `yaml:"updated_at"`
	CurrentContext CurrentContext  `yaml:"current_context"`
	WorkingMemory  []Attempt       `yaml:"working_memory"`
	ImmediateTasks []ChecklistItem `yaml:"immediate_tasks"`
	WaitingFor     []Waiting       `yaml:"waiting_for"`
	QuickRefs      []QuickRef      `yaml:"quick_refs"`
}

func (s Session) clone() Session {
	s.WorkingMemory = slices.Clone(s.WorkingMemory)
	s.ImmediateTasks = slices.Clone(s.ImmediateTasks)
	s.WaitingFor = slices.Clone(s.WaitingFor)
	s.QuickRefs = slices.Clone(s.QuickRefs)
	return s
}

// Discoveries returns the working-memory entries flagged as discoveries.
func (s Session) Discoveries() []Attempt {
	var out []Attempt
	for _, a := range s.WorkingMemory {
		if a.Discovery != nil {
			out = append(out, a)
		}
	}
	return out
}

// ─── Cold memory ────────────────────────────────────────────────────────────

// Revision is one version of a free-text document; the newest wins.
type Revision struct {
	Text string    `yaml:"text"`
	At   time.Time `yaml:"at"`
}

// Decision is a key project decision.
type Decision struct {
	Summary   string    `yaml:"summary"`
	Rationale string    `yaml:"rationale,omitempty"`
	Location  string    `yaml:"location,omitempty"`
	TaskID    string    `yaml:"task_id,omitempty"`
	At        time.Time `yaml:"at"`
}

// Learned is a pattern or gotcha. Entries are unique by summary+location.
type Learned struct {
	Summary  string    `yaml:"summary"`
	Location string    `yaml:"location,omitempty"`
	Severity string    `yaml:"severity,omitempty"`
	TaskID   string    `yaml:"task_id,omitempty"`
	At       time.Time `yaml:"at"`
}

func (l Learned) sameAs(o Learned) bool {
	return l.Summary == o.Summary && l.Location == o.Location
}

// LearnedContext holds append-only patterns and gotchas.
type LearnedContext struct {
	Patterns Log[Learned] `yaml:"patterns"`
	Gotchas  Log[Learned] `yaml:"gotchas"`
}

// Preference is a user preference; the newest value for a key wins.
type Preference struct {
	Key   string    `yaml:"key"`
	Value string    `yaml:"value"`
	At    time.Time `yaml:"at"`
}

// Blocker is an impediment raised by a task.
type Blocker struct {
	ID            string    `yaml:"id"`
	Description   string    `yaml:"description"`
	Resolution    string    `yaml:"resolution,omitempty"`
	AffectedTasks []string  `yaml:"affected_tasks,omitempty"`
	TaskID        string    `yaml:"task_id,omitempty"`
	At            time.Time `yaml:"at"`
}

// BlockerResolution closes a blocker.
type BlockerResolution struct {
	BlockerID  string    `yaml:"blocker_id"`
	Resolution string    `yaml:"resolution"`
	At         time.Time `yaml:"at"`
}

// Blockers keeps raised blockers and their resolutions. A blocker is active
// until a resolution referencing it exists.
type Blockers struct {
	Active     Log[Blocker]           `yaml:"active"`
	Historical Log[BlockerResolution] `yaml:"historical"`
}

// Open returns the blockers that have no resolution yet.
func (b Blockers) Open() []Blocker {
	resolved := map[string]bool{}
	for _, r := range b.Historical.All() {
		resolved[r.BlockerID] = true
	}
	var out []Blocker
	for _, bl := range b.Active.All() {
		if !resolved[bl.ID] {
			out = append(out, bl)
		}
	}
	return out
}

// SessionSummary closes out a task or a session in the history.
type SessionSummary struct {
	SessionID string    `yaml:"session_id"`
	TaskID    string    `yaml:"task_id,omitempty"`
	Summary   string    `yaml:"summary"`
	At        time.Time `yaml:"at"`
}

// Memory is the cold, append-only project memory.
type Memory struct {
	ProjectUnderstanding Log[Revision]       `yaml:"project_understanding"`
	KeyDecisions         Log[Decision]       `yaml:"key_decisions"`
	LearnedContext       LearnedContext      `yaml:"learned_context"`
	UserPreferences      Log[Preference]     `yaml:"user_preferences"`
	Blockers             Blockers            `yaml:"blockers"`
	SessionHistory       Log[SessionSummary] `yaml:"session_history"`
	StrategyNotes        Log[Revision]       `yaml:"strategy_notes"`
}

func (m Memory) clone() Memory {
	return Memory{
		ProjectUnderstanding: m.ProjectUnderstanding.clone(),
		KeyDecisions:         m.KeyDecisions.clone(),
		LearnedContext: LearnedContext{
			Patterns: m.LearnedContext.Patterns.clone(),
			Gotchas:  m.LearnedContext.Gotchas.clone(),
		},
		UserPreferences: m.UserPreferences.clone(),
		Blockers: Blockers{
			Active:     m.Blockers.Active.clone(),
			Historical: m.Blockers.Historical.clone(),
		},
		SessionHistory: m.SessionHistory.clone(),
		StrategyNotes:  m.StrategyNotes.clone(),
	}
}

// Understanding returns the newest project understanding.
func (m Memory) Understanding() string {
	r, _ := m.ProjectUnderstanding.Last()
	return r.Text
}

// Preferences folds the preference log into its current values.
func (m Memory) Preferences() map[string]string {
	out := map[string]string{}
	for _, p := range m.UserPreferences.All() {
		out[p.Key] = p.Value
	}
	return out
}
