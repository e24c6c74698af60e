// Package persist is the only place where the engine touches the disk.
//
// Every call is bounded by a timeout and surfaces errs.ErrIOTimeout instead of
// hanging. Transient failures are retried with capped exponential backoff;
// decode and permission failures are returned immediately.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/logging"
)

// Options bounds a persistence call.
type Options struct {
	Timeout     time.Duration // per attempt; default 5s
	MaxAttempts uint          // default 3
	BaseDelay   time.Duration // first backoff interval; default 50ms
	Logger      *zap.Logger

	// OnRetry is called before every retry. Used for metrics.
	OnRetry func(op string, err error)
}

// DefaultOptions returns the options used when a component is not configured.
func DefaultOptions() Options {
	return Options{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 5 * time.Second
	}
	return o.Timeout
}

func (o Options) attempts() uint {
	if o.MaxAttempts == 0 {
		return 3
	}
	return o.MaxAttempts
}

func (o Options) logger() *zap.Logger {
	return logging.OrNop(o.Logger)
}

// Retry runs op with a per-attempt deadline, retrying retryable failures.
func Retry[T any](ctx context.Context, o Options, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		actx, cancel := context.WithTimeout(ctx, o.timeout())
		defer cancel()

		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%s: %w", op, errs.ErrIOTimeout)
		}
		if !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Millisecond
	}
	b.MaxInterval = 20 * b.InitialInterval

	log := o.logger()
	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.attempts()),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("persistence retry", zap.String("op", op), zap.Duration("next", next), zap.Error(err))
			if o.OnRetry != nil {
				o.OnRetry(op, err)
			}
		}),
	)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, errs.ErrIOTimeout):
		return true
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, os.ErrPermission),
		errors.Is(err, errs.ErrIOCorrupt),
		errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrConcurrencyConflict),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// WriteFile replaces path with data atomically: a temp file in the same
// directory is written, synced and renamed over the target. Readers never
// observe a half-written file.
func WriteFile(ctx context.Context, path string, data []byte, o Options) error {
	_, err := Retry(ctx, o, "write "+filepath.Base(path), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, writeOnce(ctx, path, data)
	})
	return err
}

func writeOnce(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := tmp.Write(data)
		if err == nil {
			err = tmp.Sync()
		}
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("replacing %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		// The write goroutine still owns the temp file; it is removed once the
		// write returns so the target is never replaced after a timeout.
		go func() {
			<-done
			_ = os.Remove(tmp.Name())
		}()
		return fmt.Errorf("writing %s: %w", path, ctx.Err())
	}
}

// ReadFile reads path under the same timeout/retry policy as WriteFile.
// A missing file is reported as os.ErrNotExist and never retried.
func ReadFile(ctx context.Context, path string, o Options) ([]byte, error) {
	return Retry(ctx, o, "read "+filepath.Base(path), func(ctx context.Context) ([]byte, error) {
		type result struct {
			data []byte
			err  error
		}
		done := make(chan result, 1)
		go func() {
			data, err := os.ReadFile(path)
			done <- result{data, err}
		}()
		select {
		case r := <-done:
			return r.data, r.err
		case <-ctx.Done():
			return nil, fmt.Errorf("reading %s: %w", path, ctx.Err())
		}
	})
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so callers surface them on the subsequent read.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
