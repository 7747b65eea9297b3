package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/repository"
)

// Job types. Each must match a registered JobHandler.Type().
const (
	JobTypeConsumePackQuota = "consume_pack_quota"
	JobTypeExpireExtraPacks = "expire_extra_packs"
	JobTypeExpireTrials     = "expire_trials"
)

// Priority constants for job scheduling.
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// ConsumePackQuotaPayload charges one pack for a finished generation.
// The generation ID doubles as the idempotency key, so a retried job or a
// duplicate callback charges once.
type ConsumePackQuotaPayload struct {
	UserID       uuid.UUID `json:"user_id"`
	GenerationID string    `json:"generation_id"`
}

// IdempotencyKey returns the consumption key for the generation.
func (p ConsumePackQuotaPayload) IdempotencyKey() string {
	return "generation:" + p.GenerationID
}

// Enqueuer is the single query needed to put a job on the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// EnqueueOption customizes the enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets how many times the job runs before it is failed.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob marshals payload and inserts a pending job.
func EnqueueJob(ctx context.Context, q Enqueuer, jobType string, payload any, opts ...EnqueueOption) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := q.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// EnqueueConsumePackQuota queues the pack charge for a completed generation.
// It runs at high priority with up to 10 attempts unless opts override them.
func EnqueueConsumePackQuota(ctx context.Context, q Enqueuer, userID uuid.UUID, generationID string, opts ...EnqueueOption) (repository.Job, error) {
	payload := ConsumePackQuotaPayload{
		UserID:       userID,
		GenerationID: generationID,
	}
	opts = append([]EnqueueOption{WithPriority(PriorityHigh), WithMaxAttempts(10)}, opts...)
	return EnqueueJob(ctx, q, JobTypeConsumePackQuota, payload, opts...)
}
