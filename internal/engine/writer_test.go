package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/kenning/internal/engine"
)

func TestWriter_RunsOneJobAtATime(t *testing.T) {
	w := engine.NewWriter(4, zaptest.NewLogger(t))
	defer w.Close()

	var running, peak, total atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), "count", func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				total.Add(1)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, total.Load())
	assert.EqualValues(t, 1, peak.Load())
}

func TestWriter_SubmitIsAsync(t *testing.T) {
	w := engine.NewWriter(1, nil)
	defer w.Close()

	release := make(chan struct{})
	first := w.Submit(context.Background(), "block", func(context.Context) error {
		<-release
		return nil
	})
	second := w.Submit(context.Background(), "after", func(context.Context) error { return assert.AnError })

	select {
	case <-second:
		t.Fatal("second job ran before the first finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, assert.AnError)
}

func TestWriter_CanceledJobIsSkipped(t *testing.T) {
	w := engine.NewWriter(1, nil)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := w.Do(ctx, "skip", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	w.Close()
	assert.False(t, ran)
}

func TestWriter_ClosedRejectsJobs(t *testing.T) {
	w := engine.NewWriter(1, nil)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), "late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, engine.ErrClosed)
}
