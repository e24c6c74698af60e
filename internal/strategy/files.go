package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
)

// File names under the data directory.
const (
	EventsFile = "strategy_events.json"
	RulesFile  = "strategy_rules.md"
)

// EventLogVersion is written to the event log.
const EventLogVersion = "1.0"

type eventLog struct {
	Version string  `json:"version"`
	Project string  `json:"project"`
	Events  []Event `json:"events"`
}

type ruleData struct {
	Rules       []Rule `yaml:"rules"`
	NeedsReview []Rule `yaml:"needs_review"`
}

var dataBlock = regexp.MustCompile("(?s)\n## Data\n+```yaml\n(.*?)```")

func (e *Engine) loadEvents(ctx context.Context) ([]Event, error) {
	path := e.path(EventsFile)
	data, err := persist.ReadFile(ctx, path, e.cfg.Persist)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategy: read events: %w", err)
	}
	var log eventLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, errs.Corrupt(path, err)
	}
	return log.Events, nil
}

func (e *Engine) loadRules(ctx context.Context) (ruleData, error) {
	path := e.path(RulesFile)
	data, err := persist.ReadFile(ctx, path, e.cfg.Persist)
	if errors.Is(err, os.ErrNotExist) {
		return ruleData{}, nil
	}
	if err != nil {
		return ruleData{}, fmt.Errorf("strategy: read rules: %w", err)
	}
	m := dataBlock.FindSubmatch(data)
	if m == nil {
		return ruleData{}, errs.Corrupt(path, errors.New("missing data block"))
	}
	var rd ruleData
	if err := yaml.Unmarshal(m[1], &rd); err != nil {
		return ruleData{}, errs.Corrupt(path, err)
	}
	return rd, nil
}

// save writes the event log and then the rules file. If the rules file
// cannot be written the previous event log is put back.
func (e *Engine) save(ctx context.Context, st *snapshot) error {
	events, err := json.MarshalIndent(eventLog{Version: EventLogVersion, Project: e.cfg.Project, Events: st.events}, "", "  ")
	if err != nil {
		return fmt.Errorf("strategy: marshal events: %w", err)
	}
	rules, err := renderRulesFile(st)
	if err != nil {
		return err
	}

	eventsPath := e.path(EventsFile)
	prev, err := persist.ReadFile(ctx, eventsPath, e.cfg.Persist)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("strategy: read events: %w", err)
	}
	if err := persist.WriteFile(ctx, eventsPath, events, e.cfg.Persist); err != nil {
		return fmt.Errorf("strategy: write events: %w", err)
	}
	if err := persist.WriteFile(ctx, e.path(RulesFile), rules, e.cfg.Persist); err != nil {
		e.restoreEvents(ctx, prev)
		return fmt.Errorf("strategy: write rules: %w", err)
	}
	return nil
}

func (e *Engine) restoreEvents(ctx context.Context, prev []byte) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if prev == nil {
		err = os.Remove(e.path(EventsFile))
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	} else {
		err = persist.WriteFile(ctx, e.path(EventsFile), prev, e.cfg.Persist)
	}
	if err != nil {
		e.log.Error("restoring strategy events failed", zap.Error(err))
	}
}

func renderRulesFile(st *snapshot) ([]byte, error) {
	data, err := yaml.Marshal(ruleData{Rules: st.rules, NeedsReview: st.review})
	if err != nil {
		return nil, fmt.Errorf("strategy: marshal rules: %w", err)
	}
	return []byte(renderTable(st.rules, st.review) + "\n## Data\n\n```yaml\n" + string(data) + "```\n"), nil
}
