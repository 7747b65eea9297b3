package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/repository"
)

// Worker polls the queue with a fixed number of goroutines and dispatches
// jobs to registered handlers.
type Worker struct {
	queue    Queue
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Worker. Register handlers, then call Start or Run.
func New(queue Queue, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		queue:    queue,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a handler. Call before Start.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("registered job handler", "job_type", jobType)
}

// Start recovers stale jobs and launches the polling goroutines.
func (w *Worker) Start(ctx context.Context) {
	count, err := w.queue.RecoverStale(ctx, w.config.StaleJobThreshold)
	switch {
	case err != nil:
		w.logger.Error("failed to recover stale jobs", "error", err)
	case count > 0:
		w.logger.Warn("recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}

	for i := range w.config.Concurrency {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("worker started", "concurrency", w.config.Concurrency)
}

// Run starts the worker and blocks until ctx is done, then stops it.
func (w *Worker) Run(ctx context.Context) error {
	w.Start(ctx)
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop signals the goroutines and waits up to ShutdownTimeout for them.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping worker")
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded, some jobs may still be running")
	}
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			err := w.processNextJob(context.WithoutCancel(ctx), logger)
			if err != nil && !errors.Is(err, ErrNoJobs) {
				logger.Error("failed to process job", "error", err)
			}
		}
	}
}

// processNextJob claims and runs one job. Returns ErrNoJobs when idle.
// The job runs detached from the caller's cancellation so a shutdown lets
// it finish and record its outcome; JobTimeout still bounds it.
func (w *Worker) processNextJob(ctx context.Context, logger *slog.Logger) error {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		return err
	}

	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	logger.Info("processing job")
	if job.Attempts > 1 {
		metrics.JobRetried(job.JobType)
	}

	started := metrics.JobStarted(job.JobType)
	if err := w.executeJob(ctx, job); err != nil {
		permanent := IsPermanent(err)
		metrics.JobFailed(job.JobType, permanent)
		if permanent {
			logger.Warn("job failed with permanent error, will not retry", "error", err)
		} else {
			logger.Error("job failed", "error", err)
		}
		if ferr := w.queue.Fail(ctx, job.ID, err.Error(), permanent); ferr != nil {
			logger.Error("failed to mark job as failed", "error", ferr)
		}
		return nil
	}

	metrics.JobCompleted(job.JobType, started)
	logger.Info("job completed")
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		return err
	}
	return nil
}

func (w *Worker) executeJob(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler registered for job type: %s", job.JobType))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}
