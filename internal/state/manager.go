// Package state owns the hot/cold split of orchestrator memory.
//
// Hot state (session.yaml) is the short-lived working memory of the current
// session and is rewritten wholesale after every significant action. Cold
// memory (memory.yaml) is the durable project memory and only ever grows.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/logging"
	"github.com/HendryAvila/kenning/internal/persist"
)

// File names inside the state directory.
const (
	HotFile  = "session.yaml"
	ColdFile = "memory.yaml"
)

// timeNow is a package-level var so tests can pin timestamps.
var timeNow = time.Now

// Knowledge is the part of the knowledge store consolidation needs.
type Knowledge interface {
	Find(summary, detailRef string) (knowledge.Node, bool)
	Update(ctx context.Context, fn func(tx *knowledge.Tx) error) error
}

// Config bounds the hot state and locates the state files.
type Config struct {
	Dir              string
	MaxWorkingMemory int
	MaxQuickRefs     int
	MaxWaiting       int
	Persist          persist.Options
}

// DefaultConfig returns the default caps for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		MaxWorkingMemory: 20,
		MaxQuickRefs:     10,
		MaxWaiting:       10,
		Persist:          persist.DefaultOptions(),
	}
}

// Manager is the single owner of hot and cold state. Every method is safe
// for concurrent use; writes are serialized.
type Manager struct {
	cfg   Config
	store Knowledge
	log   *zap.Logger

	mu   sync.Mutex
	hot  Session
	cold Memory
}

// Open loads cold memory and loads or initializes hot state. A cold memory
// file that cannot be decoded is fatal: starting with empty history would
// silently lose it.
func Open(ctx context.Context, cfg Config, store Knowledge, log *zap.Logger) (*Manager, error) {
	log = logging.OrNop(log)
	m := &Manager{cfg: cfg, store: store, log: log}

	cold, err := m.loadCold(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: load cold memory: %w", err)
	}
	m.cold = cold

	hot, err := m.loadHot(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: load hot state: %w", err)
	}
	m.hot = m.bounded(hot)
	return m, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.cfg.Dir, name)
}

func (m *Manager) loadCold(ctx context.Context) (Memory, error) {
	path := m.path(ColdFile)
	data, err := persist.ReadFile(ctx, path, m.cfg.Persist)
	if errors.Is(err, os.ErrNotExist) {
		return Memory{}, nil
	}
	if err != nil {
		return Memory{}, err
	}
	var mem Memory
	if err := yaml.Unmarshal(data, &mem); err != nil {
		return Memory{}, errs.Corrupt(path, err)
	}
	return mem, nil
}

func (m *Manager) loadHot(ctx context.Context) (Session, error) {
	path := m.path(HotFile)
	data, err := persist.ReadFile(ctx, path, m.cfg.Persist)
	if errors.Is(err, os.ErrNotExist) {
		return newSession(), nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		// Hot state is disposable working memory; resume with a fresh one.
		m.log.Warn("hot state unreadable, starting a fresh session",
			zap.String("path", path), zap.Error(errs.Corrupt(path, err)))
		return newSession(), nil
	}
	if s.SessionID == "" {
		s.SessionID = uuid.New().String()
	}
	return s, nil
}

func newSession() Session {
	now := timeNow().UTC()
	return Session{SessionID: uuid.New().String(), StartedAt: now, UpdatedAt: now}
}

// ─── Views ──────────────────────────────────────────────────────────────────

// Hot returns a copy of the hot state.
func (m *Manager) Hot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hot.clone()
}

// Cold returns a copy of cold memory.
func (m *Manager) Cold() Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cold.clone()
}

// ActiveBlockers returns the blockers that are not resolved yet.
func (m *Manager) ActiveBlockers() []Blocker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cold.Blockers.Open()
}

// ─── Persistence ────────────────────────────────────────────────────────────

// mutateHot applies fn to a copy of the hot state, saves it and only then
// publishes it.
func (m *Manager) mutateHot(ctx context.Context, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.hot.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next = m.bounded(next)
	next.UpdatedAt = timeNow().UTC()
	if err := m.saveHot(ctx, next); err != nil {
		return err
	}
	m.hot = next
	return nil
}

// appendCold applies fn to a copy of cold memory, saves it and publishes it.
func (m *Manager) appendCold(ctx context.Context, fn func(*Memory) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cold.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := m.saveCold(ctx, next); err != nil {
		return err
	}
	m.cold = next
	return nil
}

func (m *Manager) saveHot(ctx context.Context, s Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: marshal hot state: %w", err)
	}
	if err := persist.WriteFile(ctx, m.path(HotFile), data, m.cfg.Persist); err != nil {
		return fmt.Errorf("state: save hot state: %w", err)
	}
	return nil
}

func (m *Manager) saveCold(ctx context.Context, mem Memory) error {
	data, err := yaml.Marshal(mem)
	if err != nil {
		return fmt.Errorf("state: marshal cold memory: %w", err)
	}
	if err := persist.WriteFile(ctx, m.path(ColdFile), data, m.cfg.Persist); err != nil {
		return fmt.Errorf("state: save cold memory: %w", err)
	}
	return nil
}

// bounded enforces the hot-state caps. Working memory drops its oldest
// entries that carry no discovery first, so unconsolidated knowledge is the
// last thing to go.
func (m *Manager) bounded(s Session) Session {
	if limit := m.cfg.MaxWorkingMemory; limit > 0 {
		for len(s.WorkingMemory) > limit {
			i := slices.IndexFunc(s.WorkingMemory, func(a Attempt) bool { return a.Discovery == nil })
			if i < 0 {
				i = 0
			}
			s.WorkingMemory = slices.Delete(s.WorkingMemory, i, i+1)
		}
	}
	if limit := m.cfg.MaxQuickRefs; limit > 0 && len(s.QuickRefs) > limit {
		s.QuickRefs = slices.Clone(s.QuickRefs[len(s.QuickRefs)-limit:])
	}
	if limit := m.cfg.MaxWaiting; limit > 0 && len(s.WaitingFor) > limit {
		s.WaitingFor = slices.Clone(s.WaitingFor[len(s.WaitingFor)-limit:])
	}
	return s
}

// ─── Hot-state mutators ─────────────────────────────────────────────────────

// StartTask makes taskID the active task.
func (m *Manager) StartTask(ctx context.Context, taskID, objective, phase string) error {
	if strings.TrimSpace(taskID) == "" {
		return errs.Invalid("session", "active_task_id", "required")
	}
	return m.mutateHot(ctx, func(s *Session) error {
		s.CurrentContext = CurrentContext{Objective: objective, Phase: phase, ActiveTaskID: taskID}
		return nil
	})
}

// SetPhase updates the phase of the active task.
func (m *Manager) SetPhase(ctx context.Context, phase string) error {
	return m.mutateHot(ctx, func(s *Session) error {
		s.CurrentContext.Phase = phase
		return nil
	})
}

// RecordAttempt appends an approach and its result to working memory.
func (m *Manager) RecordAttempt(ctx context.Context, a Attempt) error {
	if strings.TrimSpace(a.Tried) == "" {
		return errs.Invalid("attempt", "tried", "required")
	}
	if a.Discovery != nil {
		if err := validateDiscovery(*a.Discovery); err != nil {
			return err
		}
	}
	return m.mutateHot(ctx, func(s *Session) error {
		if a.At.IsZero() {
			a.At = timeNow().UTC()
		}
		if a.TaskID == "" {
			a.TaskID = s.CurrentContext.ActiveTaskID
		}
		s.WorkingMemory = append(s.WorkingMemory, a)
		return nil
	})
}

// RecordDiscovery appends a working-memory entry flagged as a discovery.
func (m *Manager) RecordDiscovery(ctx context.Context, d Discovery) error {
	return m.RecordAttempt(ctx, Attempt{
		Tried:     "discovered " + string(d.Kind),
		Result:    d.Summary,
		Discovery: &d,
	})
}

func validateDiscovery(d Discovery) error {
	switch {
	case !d.Kind.Valid():
		return errs.Invalid("discovery", "kind", fmt.Sprintf("unknown kind %q", d.Kind))
	case strings.TrimSpace(d.Summary) == "":
		return errs.Invalid("discovery", "summary", "required")
	}
	return nil
}

// AddWaiting records something the session is waiting for.
func (m *Manager) AddWaiting(ctx context.Context, item string) error {
	if strings.TrimSpace(item) == "" {
		return errs.Invalid("waiting", "item", "required")
	}
	return m.mutateHot(ctx, func(s *Session) error {
		if slices.ContainsFunc(s.WaitingFor, func(w Waiting) bool { return w.Item == item }) {
			return nil
		}
		s.WaitingFor = append(s.WaitingFor, Waiting{Item: item, Since: timeNow().UTC()})
		return nil
	})
}

// ResolveWaiting removes item from the waiting list.
func (m *Manager) ResolveWaiting(ctx context.Context, item string) error {
	return m.mutateHot(ctx, func(s *Session) error {
		i := slices.IndexFunc(s.WaitingFor, func(w Waiting) bool { return w.Item == item })
		if i < 0 {
			return errs.NotFound("waiting item", item)
		}
		s.WaitingFor = slices.Delete(s.WaitingFor, i, i+1)
		return nil
	})
}

// AddImmediateTask appends an unchecked item to the checklist.
func (m *Manager) AddImmediateTask(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.Invalid("immediate_task", "text", "required")
	}
	return m.mutateHot(ctx, func(s *Session) error {
		s.ImmediateTasks = append(s.ImmediateTasks, ChecklistItem{Text: text})
		return nil
	})
}

// ToggleTask flips the checkbox at index (0-based).
func (m *Manager) ToggleTask(ctx context.Context, index int) error {
	return m.mutateHot(ctx, func(s *Session) error {
		if index < 0 || index >= len(s.ImmediateTasks) {
			return errs.NotFound("immediate task", fmt.Sprint(index))
		}
		s.ImmediateTasks[index].Done = !s.ImmediateTasks[index].Done
		return nil
	})
}

// AddQuickRef remembers a file. Re-adding a file replaces its note and moves
// it to the newest position.
func (m *Manager) AddQuickRef(ctx context.Context, file, note string) error {
	if strings.TrimSpace(file) == "" {
		return errs.Invalid("quick_ref", "file", "required")
	}
	return m.mutateHot(ctx, func(s *Session) error {
		s.QuickRefs = slices.DeleteFunc(s.QuickRefs, func(q QuickRef) bool { return q.File == file })
		s.QuickRefs = append(s.QuickRefs, QuickRef{File: file, Note: note})
		return nil
	})
}

// CompleteTask closes the active task: a history entry is appended to cold
// memory and every task-scoped hot entry is cleared. Discoveries stay in
// working memory until consolidation.
func (m *Manager) CompleteTask(ctx context.Context, summary string) error {
	hot := m.Hot()
	taskID := hot.CurrentContext.ActiveTaskID
	if taskID == "" {
		return errs.NotFound("active task", "")
	}

	if err := m.appendCold(ctx, func(mem *Memory) error {
		mem.SessionHistory.Append(SessionSummary{
			SessionID: hot.SessionID,
			TaskID:    taskID,
			Summary:   summary,
			At:        timeNow().UTC(),
		})
		return nil
	}); err != nil {
		return err
	}

	return m.mutateHot(ctx, func(s *Session) error {
		s.CurrentContext = CurrentContext{}
		s.ImmediateTasks = nil
		s.WaitingFor = nil
		s.QuickRefs = nil
		s.WorkingMemory = slices.DeleteFunc(s.WorkingMemory, func(a Attempt) bool {
			return a.Discovery == nil
		})
		return nil
	})
}

// Discard drops the hot state without consolidating it.
func (m *Manager) Discard(ctx context.Context) error {
	return m.mutateHot(ctx, func(s *Session) error {
		*s = newSession()
		return nil
	})
}

// ─── Cold-memory appends ────────────────────────────────────────────────────

// AddBlocker records an active blocker and returns its id.
func (m *Manager) AddBlocker(ctx context.Context, b Blocker) (string, error) {
	if strings.TrimSpace(b.Description) == "" {
		return "", errs.Invalid("blocker", "description", "required")
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.At.IsZero() {
		b.At = timeNow().UTC()
	}
	err := m.appendCold(ctx, func(mem *Memory) error {
		if mem.Blockers.Active.ContainsFunc(func(x Blocker) bool { return x.ID == b.ID }) {
			return errs.Invalid("blocker", "id", fmt.Sprintf("duplicate id %q", b.ID))
		}
		mem.Blockers.Active.Append(b)
		return nil
	})
	return b.ID, err
}

// AddBlockers records several blockers in one write.
func (m *Manager) AddBlockers(ctx context.Context, bs []Blocker) ([]string, error) {
	ids := make([]string, 0, len(bs))
	now := timeNow().UTC()
	for i := range bs {
		if strings.TrimSpace(bs[i].Description) == "" {
			return nil, errs.Invalid("blocker", fmt.Sprintf("blockers[%d].description", i), "required")
		}
		if bs[i].ID == "" {
			bs[i].ID = uuid.New().String()
		}
		if bs[i].At.IsZero() {
			bs[i].At = now
		}
		ids = append(ids, bs[i].ID)
	}
	if len(bs) == 0 {
		return ids, nil
	}
	err := m.appendCold(ctx, func(mem *Memory) error {
		mem.Blockers.Active.Append(bs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ResolveBlocker closes the blocker with id by appending a resolution.
func (m *Manager) ResolveBlocker(ctx context.Context, id, resolution string) error {
	return m.appendCold(ctx, func(mem *Memory) error {
		if !slices.ContainsFunc(mem.Blockers.Open(), func(b Blocker) bool { return b.ID == id }) {
			return errs.NotFound("active blocker", id)
		}
		mem.Blockers.Historical.Append(BlockerResolution{
			BlockerID:  id,
			Resolution: resolution,
			At:         timeNow().UTC(),
		})
		return nil
	})
}

// AddDecision appends a key decision unless one with the same summary exists.
func (m *Manager) AddDecision(ctx context.Context, d Decision) error {
	if strings.TrimSpace(d.Summary) == "" {
		return errs.Invalid("decision", "summary", "required")
	}
	if d.At.IsZero() {
		d.At = timeNow().UTC()
	}
	return m.appendCold(ctx, func(mem *Memory) error {
		if !mem.KeyDecisions.ContainsFunc(func(x Decision) bool { return x.Summary == d.Summary }) {
			mem.KeyDecisions.Append(d)
		}
		return nil
	})
}

// SetUnderstanding appends a new revision of the project understanding.
func (m *Manager) SetUnderstanding(ctx context.Context, text string) error {
	return m.appendCold(ctx, func(mem *Memory) error {
		if mem.Understanding() == text {
			return nil
		}
		mem.ProjectUnderstanding.Append(Revision{Text: text, At: timeNow().UTC()})
		return nil
	})
}

// SetPreference appends a preference value.
func (m *Manager) SetPreference(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errs.Invalid("preference", "key", "required")
	}
	return m.appendCold(ctx, func(mem *Memory) error {
		mem.UserPreferences.Append(Preference{Key: key, Value: value, At: timeNow().UTC()})
		return nil
	})
}

// AddStrategyNote appends a free-text strategy note.
func (m *Manager) AddStrategyNote(ctx context.Context, note string) error {
	return m.appendCold(ctx, func(mem *Memory) error {
		mem.StrategyNotes.Append(Revision{Text: note, At: timeNow().UTC()})
		return nil
	})
}
