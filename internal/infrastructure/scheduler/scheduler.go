package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dreschagin/desertyard/pkg/logger"
)

const captureJobName = "capture-snapshots"

// Scheduler triggers the capture runner on a cron expression.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	job       gocron.Job
	logger    *logger.Logger
}

func New(log *logger.Logger, options ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(options...)
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    log,
	}, nil
}

// ScheduleCapture registers the capture job. Overlapping ticks are rescheduled,
// never run concurrently.
func (s *Scheduler) ScheduleCapture(ctx context.Context, cronExpr string, runner *Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		return fmt.Errorf("scheduled job already exists: %s", captureJobName)
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if _, err := runner.RunOnce(ctx); err != nil {
				// already logged by the runner
				return
			}
		}),
		gocron.WithName(captureJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", captureJobName, err)
	}

	s.job = job
	s.logger.Info("Scheduled job added", "name", captureJobName, "cron", cronExpr)
	return nil
}

// NextRun returns the next planned run, or zero time when nothing is scheduled.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return time.Time{}
	}
	next, err := s.job.NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Scheduler started", "next_run", s.NextRun().UTC().Format(time.RFC3339))
}

// Stop shuts down the scheduler and waits for a running capture to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
