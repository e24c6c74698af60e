package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/logging"
)

// ErrClosed is returned for writes submitted after Close.
var ErrClosed = errors.New("engine: closed")

type job struct {
	ctx  context.Context
	name string
	fn   func(context.Context) error
	done chan error
}

// Writer runs write jobs one at a time on a single goroutine. Every
// mutation of the knowledge store, cold memory and strategy rules goes
// through it, so writes never interleave while reads proceed against the
// stores' published snapshots.
type Writer struct {
	log  *zap.Logger
	jobs chan job

	mu     sync.RWMutex
	closed bool
	doneCh chan struct{}
}

// NewWriter starts a writer with a queue of the given depth.
func NewWriter(depth int, log *zap.Logger) *Writer {
	if depth <= 0 {
		depth = 64
	}
	w := &Writer{
		log:    logging.OrNop(log),
		jobs:   make(chan job, depth),
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.doneCh)
	for j := range w.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		err := j.fn(j.ctx)
		if err != nil {
			w.log.Debug("write job failed", zap.String("job", j.name), zap.Error(err))
		}
		j.done <- err
	}
}

// Submit queues fn and returns a channel that receives its result. The job
// runs with ctx; pass context.WithoutCancel for fire-and-forget work that
// must outlive the caller.
func (w *Writer) Submit(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		done <- ErrClosed
		return done
	}
	select {
	case w.jobs <- job{ctx: ctx, name: name, fn: fn, done: done}:
	case <-ctx.Done():
		done <- ctx.Err()
	}
	return done
}

// Do queues fn and waits for it. If ctx ends first Do returns ctx.Err();
// a job that already started still runs to completion.
func (w *Writer) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	select {
	case err := <-w.Submit(ctx, name, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, drains the queue and waits for the writer
// goroutine to exit.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.doneCh
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.doneCh
}
