// Package watch ingests handoff files dropped into an inbox directory.
//
// Agents that cannot call the engine directly write <TASK-ID>.handoff.yaml
// into the inbox. Accepted files are moved to inbox/accepted and the task's
// completion marker is written; rejected files stay in place next to a
// <TASK-ID>.handoff.error file naming the offending field, and are picked up
// again when rewritten.
package watch

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

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/handoff"
	"github.com/HendryAvila/kenning/internal/persist"
	"github.com/HendryAvila/kenning/internal/tasks"
)

// Suffixes of inbox files.
const (
	HandoffSuffix = ".handoff.yaml"
	ErrorSuffix   = ".handoff.error"
	AcceptedDir   = "accepted"
)

// Ingester accepts handoff text for a task.
type Ingester interface {
	IngestHandoff(ctx context.Context, taskID, text string) (*handoff.Result, error)
}

// Marker records task completion.
type Marker interface {
	MarkDone(ctx context.Context, taskID string) error
}

// Result is reported for every processed file.
type Result struct {
	Path   string
	TaskID string
	Result *handoff.Result
	Err    error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(w *Watcher) { w.log = l } }

// WithDebounce sets how long a file must be quiet before it is processed.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithPersist sets the IO options for reading inbox files.
func WithPersist(o persist.Options) Option { return func(w *Watcher) { w.opts = o } }

// OnResult registers a callback invoked after each processed file.
func OnResult(fn func(Result)) Option { return func(w *Watcher) { w.onResult = fn } }

// Watcher watches an inbox directory for handoff files.
type Watcher struct {
	dir      string
	ingest   Ingester
	marker   Marker
	log      *zap.Logger
	debounce time.Duration
	opts     persist.Options
	onResult func(Result)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a watcher for dir. marker may be nil.
func New(dir string, ing Ingester, marker Marker, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		ingest:   ing,
		marker:   marker,
		log:      zap.NewNop(),
		debounce: 250 * time.Millisecond,
		opts:     persist.DefaultOptions(),
		pending:  map[string]time.Time{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Dir returns the inbox directory.
func (w *Watcher) Dir() string { return w.dir }

// Start creates the inbox if needed, queues files already present and
// starts watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watch: create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch: watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		fsw.Close()
		return fmt.Errorf("watch: list inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isHandoff(e.Name()) {
			w.pending[filepath.Join(w.dir, e.Name())] = time.Time{}
		}
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(ctx)

	w.log.Info("watching handoff inbox", zap.String("dir", w.dir))
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	if err := w.fsw.Close(); err != nil {
		w.log.Warn("closing inbox watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isHandoff(filepath.Base(ev.Name)) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("inbox watcher error", zap.Error(err))
		case <-tick.C:
			w.flush(ctx)
		}
	}
}

// flush processes the files that have been quiet for the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string
	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	slices.Sort(ready)
	for _, path := range ready {
		w.Process(ctx, path)
	}
}

// Process ingests one inbox file. It is what the watch loop runs for each
// settled file and may also be called directly.
func (w *Watcher) Process(ctx context.Context, path string) Result {
	name := filepath.Base(path)
	res := Result{Path: path, TaskID: strings.TrimSuffix(name, HandoffSuffix)}
	defer func() {
		if w.onResult != nil {
			w.onResult(res)
		}
	}()

	data, err := persist.ReadFile(ctx, path, w.opts)
	if errors.Is(err, os.ErrNotExist) {
		res.Err = err
		return res
	}
	if err != nil {
		res.Err = err
		w.log.Error("reading handoff file", zap.String("path", path), zap.Error(err))
		return res
	}
	if handoff.CheckTaskID(res.TaskID) != nil {
		if id := tasks.FindTaskID(string(data)); id != "" {
			res.TaskID = id
		}
	}

	res.Result, res.Err = w.ingest.IngestHandoff(ctx, res.TaskID, string(data))
	errPath := strings.TrimSuffix(path, HandoffSuffix) + ErrorSuffix
	if res.Err != nil {
		w.log.Warn("handoff file rejected", zap.String("path", path), zap.Error(res.Err))
		if err := persist.WriteFile(ctx, errPath, []byte(res.Err.Error()+"\n"), w.opts); err != nil {
			w.log.Error("writing handoff error file", zap.String("path", errPath), zap.Error(err))
		}
		return res
	}

	_ = os.Remove(errPath)
	if w.marker != nil && res.Result.Outcome == handoff.OutcomeCompleted {
		if err := w.marker.MarkDone(ctx, res.TaskID); err != nil {
			w.log.Error("writing completion marker", zap.String("task", res.TaskID), zap.Error(err))
		}
	}
	dst := filepath.Join(filepath.Dir(path), AcceptedDir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err == nil {
		err = os.Rename(path, dst)
	}
	w.log.Info("handoff file accepted",
		zap.String("task", res.TaskID),
		zap.Int("nodes_created", len(res.Result.NodesCreated)),
	)
	return res
}

func isHandoff(name string) bool {
	return strings.HasSuffix(name, HandoffSuffix) && !strings.HasPrefix(name, ".")
}
