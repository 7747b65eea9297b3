package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sappio-ai/sappio/internal/repository"
)

// ErrNoJobs is returned by Queue.Claim when nothing is ready to run.
var ErrNoJobs = errors.New("no jobs available")

// Queue is the job lifecycle the worker drives.
type Queue interface {
	// Claim takes the next ready job and marks it running.
	Claim(ctx context.Context) (repository.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records the error. Non-permanent failures are rescheduled with
	// backoff until max_attempts.
	Fail(ctx context.Context, id uuid.UUID, message string, permanent bool) error
	// RecoverStale resets jobs left running longer than threshold.
	RecoverStale(ctx context.Context, threshold time.Duration) (int64, error)
}

// PGQueue is the Postgres-backed Queue.
type PGQueue struct {
	pool    *pgxpool.Pool
	queries *repository.Queries
}

// NewPGQueue creates a queue over the jobs table.
func NewPGQueue(pool *pgxpool.Pool, queries *repository.Queries) *PGQueue {
	return &PGQueue{pool: pool, queries: queries}
}

// Claim dequeues with SKIP LOCKED and marks the job started in the same
// transaction, so two workers never claim one job.
func (q *PGQueue) Claim(ctx context.Context) (repository.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qtx := q.queries.WithTx(tx)

	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Job{}, ErrNoJobs
		}
		return repository.Job{}, fmt.Errorf("dequeue job: %w", err)
	}

	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return repository.Job{}, fmt.Errorf("commit dequeue: %w", err)
	}

	job.Attempts++
	return job, nil
}

func (q *PGQueue) Complete(ctx context.Context, id uuid.UUID) error {
	if err := q.queries.UpdateJobCompleted(ctx, id); err != nil {
		return fmt.Errorf("update job completed: %w", err)
	}
	return nil
}

func (q *PGQueue) Fail(ctx context.Context, id uuid.UUID, message string, permanent bool) error {
	err := q.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{
		ID:           id,
		ErrorMessage: &message,
		Permanent:    permanent,
	})
	if err != nil {
		return fmt.Errorf("update job failed: %w", err)
	}
	return nil
}

func (q *PGQueue) RecoverStale(ctx context.Context, threshold time.Duration) (int64, error) {
	count, err := q.queries.RecoverStaleJobs(ctx, threshold.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return count, nil
}
