// Package engine wires the knowledge store, the state manager, handoff
// ingestion, context computation and the strategy engine into the single
// object the CLI and the MCP server talk to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/config"
	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/knowledge"
	"github.com/HendryAvila/kenning/internal/logging"
	"github.com/HendryAvila/kenning/internal/metrics"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/prompt"
	"github.com/HendryAvila/kenning/internal/retrieval"
	"github.com/HendryAvila/kenning/internal/signals"
	"github.com/HendryAvila/kenning/internal/state"
	"github.com/HendryAvila/kenning/internal/strategy"
	"github.com/HendryAvila/kenning/internal/tasks"
)

// Engine is the public surface of the context engine. All methods are safe
// for concurrent use.
type Engine struct {
	cfg  config.Config
	log  *zap.Logger
	opts persist.Options

	store     *knowledge.Store
	state     *state.Manager
	archive   *handoff.Archive
	ingester  *handoff.Ingester
	tracker   *tasks.Tracker
	queue     *tasks.Queue
	extractor signals.Extractor
	computer  *retrieval.Computer
	strategy  *strategy.Engine
	writer    *Writer
}

// Open loads every store under cfg.DataDir. log may be nil.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	opts := persist.Options{
		Timeout:     cfg.IOTimeout,
		MaxAttempts: cfg.RetryAttempts,
		Logger:      log.Named("persist"),
		OnRetry:     metrics.PersistRetry,
	}

	backend, err := openBackend(cfg, opts)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.Open(ctx, backend, knowledge.WithLogger(log.Named("knowledge")))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	e := &Engine{cfg: cfg, log: log, opts: opts, store: store}
	if err := e.init(ctx, opts); err != nil {
		_ = store.Close()
		return nil, err
	}
	metrics.SetNodeCount(store.Len())
	metrics.SetRuleCounts(e.strategy.Counts())
	log.Info("engine opened",
		zap.String("data_dir", cfg.DataDir),
		zap.String("backend", cfg.Backend),
		zap.Int("nodes", store.Len()),
	)
	return e, nil
}

func openBackend(cfg config.Config, opts persist.Options) (knowledge.Backend, error) {
	if cfg.Backend == config.BackendSQLite {
		return knowledge.NewSQLiteBackend(cfg.Path(knowledge.DBFile), opts)
	}
	return knowledge.NewJSONBackend(cfg.Path(knowledge.GraphFile), opts), nil
}

func (e *Engine) init(ctx context.Context, opts persist.Options) error {
	cfg := e.cfg

	sc := state.DefaultConfig(cfg.DataDir)
	sc.MaxWorkingMemory = cfg.MaxWorkingMemory
	sc.MaxQuickRefs = cfg.MaxQuickRefs
	sc.MaxWaiting = cfg.MaxWaiting
	sc.Persist = opts
	st, err := state.Open(ctx, sc, e.store, e.log.Named("state"))
	if err != nil {
		return err
	}
	e.state = st

	strat, err := strategy.Open(ctx, strategy.Config{
		Dir:         cfg.DataDir,
		Project:     cfg.Project,
		DecayWindow: cfg.DecayWindow,
		Persist:     opts,
	}, e.store, e.log.Named("strategy"))
	if err != nil {
		return err
	}
	e.strategy = strat

	e.archive = handoff.NewArchive(cfg.Path(handoff.ArchiveDir), opts)
	e.ingester = handoff.NewIngester(e.store, e.state, e.archive, e.log.Named("handoff"))
	e.tracker = tasks.NewTracker(cfg.CompleteDir, e.archive, opts)
	e.queue = tasks.NewQueue(cfg.TaskQueue, opts)

	tax := signals.MustTaxonomy(signals.DefaultDomains)
	if cfg.Extractor == config.ExtractorProse {
		e.extractor = signals.NewProseExtractor(tax)
	} else {
		e.extractor = signals.NewTokenExtractor(tax)
	}
	e.computer = retrieval.NewComputer(e.store, e.archive,
		retrieval.WithTaxonomy(tax),
		retrieval.WithExtractor(e.extractor),
		retrieval.WithLimits(e.strategy),
		retrieval.WithSession(e.state),
		retrieval.WithCompletion(e.tracker),
		retrieval.WithLogger(e.log.Named("retrieval")),
	)
	e.writer = NewWriter(0, e.log.Named("writer"))
	return nil
}

// Close drains queued writes and releases the knowledge backend.
func (e *Engine) Close() error {
	e.writer.Close()
	return e.store.Close()
}

// Write runs fn on the writer goroutine behind every queued write. Callers
// use it for state mutations that touch cold memory.
func (e *Engine) Write(ctx context.Context, name string, fn func(context.Context) error) error {
	return e.writer.Do(ctx, name, fn)
}

// ─── Accessors ──────────────────────────────────────────────────────────────

func (e *Engine) Config() config.Config       { return e.cfg }
func (e *Engine) Knowledge() *knowledge.Store { return e.store }
func (e *Engine) State() *state.Manager       { return e.state }
func (e *Engine) Strategy() *strategy.Engine  { return e.strategy }
func (e *Engine) Archive() *handoff.Archive   { return e.archive }
func (e *Engine) Tracker() *tasks.Tracker     { return e.tracker }
func (e *Engine) Queue() *tasks.Queue         { return e.queue }

// Persist returns the persistence options every store was opened with.
func (e *Engine) Persist() persist.Options { return e.opts }

// ─── Context ────────────────────────────────────────────────────────────────

// ComputeContext computes the context slice for t. An unset complexity
// falls back to the configured default.
func (e *Engine) ComputeContext(ctx context.Context, t retrieval.Task) (*retrieval.ComputedContext, error) {
	if t.Complexity == "" {
		t.Complexity = retrieval.Complexity(e.cfg.DefaultComplexity)
	}
	start := time.Now()
	cc, err := e.computer.Compute(ctx, t)
	if err != nil {
		return nil, err
	}
	metrics.ContextComputed(string(cc.Complexity), time.Since(start))
	e.log.Debug("context computed",
		zap.String("task", t.ID),
		zap.String("complexity", string(cc.Complexity)),
		zap.Int("items", len(cc.IDs())),
	)
	return cc, nil
}

// Task builds a retrieval task from the task queue entry id.
func (e *Engine) Task(ctx context.Context, id string) (retrieval.Task, error) {
	qt, err := e.queue.Get(ctx, id)
	if err != nil {
		return retrieval.Task{}, err
	}
	return retrieval.Task{
		ID:                 qt.ID,
		Objective:          qt.Objective(),
		AcceptanceCriteria: qt.AcceptanceCriteria,
		Dependencies:       qt.DependsOn,
		Complexity:         e.complexityOf(qt),
		Skills:             qt.Skills,
	}, nil
}

// complexityOf maps the queue's complexity column. Queues written by hand
// often say low/medium/high.
func (e *Engine) complexityOf(qt tasks.Task) retrieval.Complexity {
	switch v := strings.ToLower(strings.TrimSpace(qt.Complexity)); v {
	case "low", "simple", "trivial":
		return retrieval.Easy
	case "medium", "moderate":
		return retrieval.Normal
	case "high", "hard":
		return retrieval.Complex
	default:
		c, err := retrieval.ParseComplexity(v)
		if err != nil {
			e.log.Warn("unknown task complexity, using default",
				zap.String("task", qt.ID),
				zap.String("complexity", qt.Complexity),
			)
			return retrieval.Complexity(e.cfg.DefaultComplexity)
		}
		return c
	}
}

// AssemblePrompt builds the cache-partitioned prompt for task.
func (e *Engine) AssemblePrompt(skills []prompt.Skill, cc *retrieval.ComputedContext, task retrieval.Task, opts ...prompt.Option) prompt.Prompt {
	return prompt.Assemble(skills, cc, task, opts...)
}

// ─── Handoffs ───────────────────────────────────────────────────────────────

// IngestHandoff parses text and ingests the handoff it contains. It
// implements watch.Ingester.
func (e *Engine) IngestHandoff(ctx context.Context, taskID, text string) (*handoff.Result, error) {
	return e.ingest(ctx, taskID, func(ctx context.Context, tags []string) (*handoff.Result, error) {
		return e.ingester.IngestText(ctx, taskID, text, tags)
	})
}

// IngestRecord ingests an already decoded handoff record.
func (e *Engine) IngestRecord(ctx context.Context, taskID string, r *handoff.Record) (*handoff.Result, error) {
	return e.ingest(ctx, taskID, func(ctx context.Context, tags []string) (*handoff.Result, error) {
		return e.ingester.Ingest(ctx, taskID, r, tags)
	})
}

func (e *Engine) ingest(ctx context.Context, taskID string, fn func(context.Context, []string) (*handoff.Result, error)) (*handoff.Result, error) {
	tags := e.taskTags(ctx, taskID)

	var res *handoff.Result
	err := e.writer.Do(ctx, "ingest "+taskID, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx, tags)
		return err
	})
	if err != nil {
		e.rejected(taskID, err)
		return nil, err
	}

	metrics.HandoffAccepted()
	e.created(res.NodesCreated)
	return res, nil
}

func (e *Engine) rejected(taskID string, err error) {
	if errors.Is(err, errs.ErrValidation) {
		metrics.HandoffRejected(errs.FieldOf(err))
	}
	e.log.Warn("handoff rejected", zap.String("task", taskID), zap.Error(err))
}

// taskTags are the tags every node of taskID's handoff carries: the
// signals of its queue entry, when the queue knows it.
func (e *Engine) taskTags(ctx context.Context, taskID string) []string {
	qt, err := e.queue.Get(ctx, taskID)
	if err != nil {
		return nil
	}
	text := qt.Objective()
	if qt.Category != "" {
		text += " " + qt.Category
	}
	return e.extractor.Extract(text).Tags()
}

// ─── Feedback ───────────────────────────────────────────────────────────────

// RecordFeedback records ev and returns the rules it changed.
func (e *Engine) RecordFeedback(ctx context.Context, ev strategy.Event) (*strategy.Outcome, error) {
	var out *strategy.Outcome
	err := e.writer.Do(ctx, "feedback", func(ctx context.Context) error {
		var err error
		out, err = e.strategy.Record(ctx, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, s := range ev.Signals {
		metrics.FeedbackSignal(string(s))
	}
	metrics.SetRuleCounts(e.strategy.Counts())
	metrics.SetNodeCount(e.store.Len())
	return out, nil
}

// SubmitFeedback queues ev behind pending writes and returns immediately.
// The channel receives the result once the event is recorded.
func (e *Engine) SubmitFeedback(ctx context.Context, ev strategy.Event) <-chan error {
	return e.writer.Submit(context.WithoutCancel(ctx), "feedback", func(ctx context.Context) error {
		if _, err := e.strategy.Record(ctx, ev); err != nil {
			e.log.Error("recording feedback", zap.String("task", ev.TaskID), zap.Error(err))
			return err
		}
		for _, s := range ev.Signals {
			metrics.FeedbackSignal(string(s))
		}
		metrics.SetRuleCounts(e.strategy.Counts())
		return nil
	})
}

// ApplyRule marks an active strategy rule as applied.
func (e *Engine) ApplyRule(ctx context.Context, id string) error {
	return e.writer.Do(ctx, "apply rule", func(ctx context.Context) error {
		return e.strategy.Apply(ctx, id)
	})
}

// AddRule adds a manual or imported strategy rule.
func (e *Engine) AddRule(ctx context.Context, r strategy.Rule) (strategy.Rule, error) {
	var added strategy.Rule
	err := e.writer.Do(ctx, "add rule", func(ctx context.Context) error {
		var err error
		added, err = e.strategy.AddRule(ctx, r)
		return err
	})
	if err == nil {
		metrics.SetRuleCounts(e.strategy.Counts())
	}
	return added, err
}

// ─── Consolidation ──────────────────────────────────────────────────────────

// Consolidate migrates the session's discoveries into durable memory and
// resets the hot state.
func (e *Engine) Consolidate(ctx context.Context) (*state.ConsolidationResult, error) {
	var res *state.ConsolidationResult
	err := e.writer.Do(ctx, "consolidate", func(ctx context.Context) error {
		var err error
		res, err = e.state.Consolidate(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.created(res.NodesCreated)
	return res, nil
}

// ConsolidateAsync queues a consolidation behind pending writes.
func (e *Engine) ConsolidateAsync(ctx context.Context) <-chan error {
	return e.writer.Submit(context.WithoutCancel(ctx), "consolidate", func(ctx context.Context) error {
		res, err := e.state.Consolidate(ctx)
		if err != nil {
			e.log.Error("consolidation failed", zap.Error(err))
			return err
		}
		e.created(res.NodesCreated)
		return nil
	})
}

func (e *Engine) created(ids []string) {
	for _, id := range ids {
		if n, err := e.store.Get(id); err == nil {
			metrics.NodeCreated(string(n.Type))
		}
	}
	metrics.SetNodeCount(e.store.Len())
}
