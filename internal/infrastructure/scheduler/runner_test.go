package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/application/usecase"
	"github.com/dreschagin/desertyard/pkg/logger"
)

type blockingCapture struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	started chan struct{}
	err     error
}

func (c *blockingCapture) Execute(ctx context.Context) (*usecase.CaptureRunResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &usecase.CaptureRunResult{
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Sources: []usecase.SourceCaptureResult{
			{SourceID: "tv721", Outcome: port.CaptureOutcomeStored, Attempts: 1},
		},
	}, nil
}

func TestRunner_RecordsSuccess(t *testing.T) {
	runner := NewRunner(&blockingCapture{}, logger.New("error"), "*/5 * * * *", time.Second)

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	status := runner.Snapshot()
	if status.Runs != 1 || status.LastRunAt.IsZero() || status.LastError != "" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastResult == nil || status.LastResult.Sources[0].SourceID != "tv721" {
		t.Fatalf("expected last result, got %+v", status.LastResult)
	}

	// snapshot must be a copy
	status.LastResult.Sources[0].SourceID = "mutated"
	if runner.Snapshot().LastResult.Sources[0].SourceID != "tv721" {
		t.Fatalf("snapshot leaked internal state")
	}
}

func TestRunner_RecordsFailure(t *testing.T) {
	runner := NewRunner(&blockingCapture{err: errors.New("not configured")}, logger.New("error"), "", time.Second)

	if _, err := runner.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	status := runner.Snapshot()
	if status.LastError == "" || status.LastResult != nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRunner_TryRunOnceRejectsOverlap(t *testing.T) {
	capture := &blockingCapture{
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	runner := NewRunner(capture, logger.New("error"), "", time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.RunOnce(context.Background())
	}()
	<-capture.started

	if !runner.Snapshot().Running {
		t.Fatalf("expected runner to report an active run")
	}
	if _, err := runner.TryRunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(capture.release)
	<-done

	if capture.calls != 1 {
		t.Fatalf("expected a single execution, got %d", capture.calls)
	}
}

func TestRunner_AppliesRunTimeout(t *testing.T) {
	capture := &blockingCapture{release: make(chan struct{})}
	runner := NewRunner(capture, logger.New("error"), "", 10*time.Millisecond)

	_, err := runner.RunOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type deadlineRecorder struct {
	hasDeadline bool
}

func (c *deadlineRecorder) Execute(ctx context.Context) (*usecase.CaptureRunResult, error) {
	_, c.hasDeadline = ctx.Deadline()
	return &usecase.CaptureRunResult{}, nil
}

func TestRunner_ZeroTimeoutLeavesRunUnbounded(t *testing.T) {
	capture := &deadlineRecorder{}
	runner := NewRunner(capture, logger.New("error"), "", 0)

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if capture.hasDeadline {
		t.Fatalf("expected no run deadline when timeout is zero")
	}
}
