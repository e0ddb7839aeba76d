// Package task runs long operations (schema discovery, loading, index
// builds) as cancellable background tasks with pollable progress. The
// synchronous form of any operation is simply "start the task and block on
// Await".
package task

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Status is a task's lifecycle state.
type Status int32

// Task states. Everything but Running is terminal.
const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusFailed
	StatusCancelled
	StatusTimedOut
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Func is the body of a task. report publishes progress in [0,100];
// regressions are ignored so observed progress is monotone. The body must
// honor ctx cancellation.
type Func func(ctx context.Context, report func(int)) error

// Handle tracks one running or finished task.
type Handle struct {
	id       string
	progress atomic.Int32
	status   atomic.Int32

	mu  sync.Mutex
	err error

	done   chan struct{}
	cancel context.CancelFunc
}

// ID returns the task's identifier.
func (h *Handle) ID() string { return h.id }

// Progress returns the last reported progress, 0-100, monotone.
func (h *Handle) Progress() int { return int(h.progress.Load()) }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status { return Status(h.status.Load()) }

// Cancel requests cancellation. Safe to call repeatedly and after
// completion.
func (h *Handle) Cancel() { h.cancel() }

// Await blocks until the task finishes and returns its error, if any.
func (h *Handle) Await() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Err returns the task error without blocking; nil while running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
	default:
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) report(p int) {
	if p > 100 {
		p = 100
	}
	for {
		cur := h.progress.Load()
		if int32(p) <= cur {
			return
		}
		if h.progress.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

func (h *Handle) finish(err error) {
	switch {
	case err == nil:
		h.report(100)
		h.status.Store(int32(StatusSucceeded))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrTimeout):
		h.status.Store(int32(StatusTimedOut))
	case errors.Is(err, context.Canceled) || errors.Is(err, core.ErrCancelled):
		h.status.Store(int32(StatusCancelled))
	default:
		h.status.Store(int32(StatusFailed))
	}
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Runner executes tasks on a bounded worker pool.
type Runner struct {
	pool   *ants.Pool
	logger *zap.Logger
}

// NewRunner creates a runner. size bounds concurrent tasks; zero or
// negative selects half the CPU count, minimum one.
func NewRunner(size int, logger *zap.Logger) (*Runner, error) {
	if size <= 0 {
		size = runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Runner{pool: pool, logger: utils.LoggerOrNop(logger)}, nil
}

// Go starts fn as a background task and returns its handle.
func (r *Runner) Go(ctx context.Context, fn Func) (*Handle, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	err := r.pool.Submit(func() {
		defer cancel()
		taskErr := fn(taskCtx, h.report)
		if taskErr == nil && taskCtx.Err() != nil {
			taskErr = taskCtx.Err()
		}
		h.finish(taskErr)
		if taskErr != nil {
			r.logger.Debug("task finished with error",
				zap.String("task_id", h.id),
				zap.String("status", h.Status().String()),
				zap.Error(taskErr),
			)
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return h, nil
}

// Run is the synchronous form: start fn and block until it finishes.
func (r *Runner) Run(ctx context.Context, fn Func) error {
	h, err := r.Go(ctx, fn)
	if err != nil {
		return err
	}
	return h.Await()
}

// Close releases the worker pool. Running tasks finish first.
func (r *Runner) Close() { r.pool.Release() }
