package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrTaskAlreadyRegistered  = errors.New("periodic task already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no periodic tasks")
)

// SchedulerStore is what the scheduler needs from the jobs table.
type SchedulerStore interface {
	Enqueuer
	HasPendingJob(ctx context.Context, jobType string) (bool, error)
}

// Scheduler enqueues periodic jobs, at most one outstanding per type.
// Several processes may run a Scheduler; the pending check keeps the queue
// from piling up duplicates and the sweeps themselves are idempotent.
type Scheduler struct {
	store    SchedulerStore
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*periodicTask
}

type periodicTask struct {
	jobType string
	every   time.Duration
	opts    []EnqueueOption
	lastRun time.Time
	hasRun  bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often due tasks are evaluated. Default 30s.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(store SchedulerStore, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    store,
		interval: 30 * time.Second,
		now:      time.Now,
		logger:   logger,
		tasks:    make(map[string]*periodicTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every registers jobType to be enqueued once per interval. The first run is
// enqueued on the first check.
func (s *Scheduler) Every(jobType string, every time.Duration, opts ...EnqueueOption) error {
	if every <= 0 {
		return fmt.Errorf("interval for %s must be positive, got %v", jobType, every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[jobType]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[jobType] = &periodicTask{
		jobType: jobType,
		every:   every,
		opts:    opts,
	}

	s.logger.Info("registered periodic job", "job_type", jobType, "every", every)
	return nil
}

// Run checks immediately, then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// checkTasks enqueues every task that is due.
func (s *Scheduler) checkTasks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range s.tasks {
		if task.hasRun && now.Sub(task.lastRun) < task.every {
			continue
		}
		if err := s.enqueue(ctx, task); err != nil {
			s.logger.Error("failed to schedule periodic job", "job_type", task.jobType, "error", err)
			continue
		}
		task.lastRun = now
		task.hasRun = true
	}
}

func (s *Scheduler) enqueue(ctx context.Context, task *periodicTask) error {
	pending, err := s.store.HasPendingJob(ctx, task.jobType)
	if err != nil {
		return fmt.Errorf("check pending job: %w", err)
	}
	if pending {
		s.logger.Debug("periodic job already pending", "job_type", task.jobType)
		return nil
	}

	opts := append([]EnqueueOption{WithMaxAttempts(1), WithPriority(PriorityLow)}, task.opts...)
	job, err := EnqueueJob(ctx, s.store, task.jobType, struct{}{}, opts...)
	if err != nil {
		return err
	}
	s.logger.Info("enqueued periodic job", "job_type", task.jobType, "job_id", job.ID)
	return nil
}
