package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/desertyard/internal/application/port"
	"github.com/dreschagin/desertyard/internal/application/usecase"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// ErrRunInProgress is returned by TryRunOnce while another run holds the lock.
var ErrRunInProgress = errors.New("capture run already in progress")

// CaptureExecutor runs one capture pass over all sources.
type CaptureExecutor interface {
	Execute(ctx context.Context) (*usecase.CaptureRunResult, error)
}

// Status is a point-in-time copy of the runner state.
type Status struct {
	StartedAt  time.Time
	Schedule   string
	Running    bool
	Runs       int
	LastRunAt  time.Time
	LastError  string
	LastResult *usecase.CaptureRunResult
}

// Runner serialises scheduled and manual capture runs and remembers the last outcome.
type Runner struct {
	capture    CaptureExecutor
	log        *logger.Logger
	schedule   string
	runTimeout time.Duration

	runMu sync.Mutex

	mu         sync.RWMutex
	startedAt  time.Time
	running    bool
	runs       int
	lastRunAt  time.Time
	lastError  string
	lastResult *usecase.CaptureRunResult
}

// NewRunner creates a runner. A non-positive runTimeout leaves runs without a
// deadline; each fetch is still bounded by the fetcher timeout.
func NewRunner(capture CaptureExecutor, log *logger.Logger, schedule string, runTimeout time.Duration) *Runner {
	return &Runner{
		capture:    capture,
		log:        log,
		schedule:   schedule,
		runTimeout: runTimeout,
		startedAt:  time.Now(),
	}
}

// RunOnce waits for any in-flight run and then executes a new one.
func (r *Runner) RunOnce(ctx context.Context) (*usecase.CaptureRunResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	return r.run(ctx)
}

// TryRunOnce executes a run unless one is already in progress.
func (r *Runner) TryRunOnce(ctx context.Context) (*usecase.CaptureRunResult, error) {
	if !r.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	return r.run(ctx)
}

func (r *Runner) run(ctx context.Context) (*usecase.CaptureRunResult, error) {
	r.setRunning(true)
	defer r.setRunning(false)

	runCtx := ctx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	result, err := r.capture.Execute(runCtx)
	runAt := time.Now()

	if err != nil {
		wrappedErr := fmt.Errorf("capture run failed: %w", err)
		r.updateFailure(runAt, wrappedErr)
		r.log.Error("Capture run failed", wrappedErr)
		return nil, wrappedErr
	}

	r.updateSuccess(runAt, result)

	if failed := result.Count(port.CaptureOutcomeExhausted); failed == len(result.Sources) && failed > 0 {
		r.log.Warn("Capture run completed without a single successful source", "sources", failed)
	}

	return result, nil
}

func (r *Runner) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		StartedAt: r.startedAt,
		Schedule:  r.schedule,
		Running:   r.running,
		Runs:      r.runs,
		LastRunAt: r.lastRunAt,
		LastError: r.lastError,
	}

	if r.lastResult != nil {
		copied := *r.lastResult
		copied.Sources = append([]usecase.SourceCaptureResult(nil), r.lastResult.Sources...)
		status.LastResult = &copied
	}

	return status
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = running
}

func (r *Runner) updateFailure(runAt time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs++
	r.lastRunAt = runAt
	r.lastError = err.Error()
}

func (r *Runner) updateSuccess(runAt time.Time, result *usecase.CaptureRunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs++
	r.lastRunAt = runAt
	r.lastError = ""
	r.lastResult = result
}
