package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(2, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestTaskSucceeds(t *testing.T) {
	r := newTestRunner(t)

	h, err := r.Go(context.Background(), func(ctx context.Context, report func(int)) error {
		report(50)
		return nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := h.Await(); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got := h.Status(); got != StatusSucceeded {
		t.Errorf("status = %v, want succeeded", got)
	}
	if got := h.Progress(); got != 100 {
		t.Errorf("progress after success = %d, want 100", got)
	}
	if h.ID() == "" {
		t.Error("task id is empty")
	}
}

func TestTaskFailure(t *testing.T) {
	r := newTestRunner(t)
	boom := errors.New("boom")

	h, err := r.Go(context.Background(), func(ctx context.Context, report func(int)) error {
		return boom
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := h.Await(); !errors.Is(err, boom) {
		t.Fatalf("Await = %v, want boom", err)
	}
	if got := h.Status(); got != StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
}

func TestTaskCancel(t *testing.T) {
	r := newTestRunner(t)
	started := make(chan struct{})

	h, err := r.Go(context.Background(), func(ctx context.Context, report func(int)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-started
	h.Cancel()
	if err := h.Await(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await = %v, want context.Canceled", err)
	}
	if got := h.Status(); got != StatusCancelled {
		t.Errorf("status = %v, want cancelled", got)
	}
	// Repeated cancel after completion must not panic.
	h.Cancel()
}

func TestTaskTimeout(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	h, err := r.Go(ctx, func(ctx context.Context, report func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := h.Await(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await = %v, want deadline exceeded", err)
	}
	if got := h.Status(); got != StatusTimedOut {
		t.Errorf("status = %v, want timed_out", got)
	}
}

func TestProgressMonotone(t *testing.T) {
	r := newTestRunner(t)

	h, err := r.Go(context.Background(), func(ctx context.Context, report func(int)) error {
		report(40)
		report(20) // regression, must be ignored
		report(60)
		report(500) // clamped
		return nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := h.Await(); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got := h.Progress(); got != 100 {
		t.Errorf("final progress = %d, want 100", got)
	}
}

func TestErrNonBlocking(t *testing.T) {
	r := newTestRunner(t)
	release := make(chan struct{})

	h, err := r.Go(context.Background(), func(ctx context.Context, report func(int)) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if got := h.Err(); got != nil {
		t.Errorf("Err while running = %v, want nil", got)
	}
	if got := h.Status(); got != StatusRunning {
		t.Errorf("status while running = %v, want running", got)
	}
	close(release)
	if err := h.Await(); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestRunSynchronous(t *testing.T) {
	r := newTestRunner(t)
	ran := false
	if err := r.Run(context.Background(), func(ctx context.Context, report func(int)) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Error("task body did not run")
	}
}
