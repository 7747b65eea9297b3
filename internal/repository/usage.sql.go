package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getUsageCounter = `-- name: GetUsageCounter :one
SELECT user_id, period_start, period_end, packs_created, updated_at
FROM usage_counters
WHERE user_id = $1 AND period_start = $2
`

type GetUsageCounterParams struct {
	UserID      uuid.UUID
	PeriodStart time.Time
}

func (q *Queries) GetUsageCounter(ctx context.Context, arg GetUsageCounterParams) (UsageCounter, error) {
	row := q.db.QueryRow(ctx, getUsageCounter, arg.UserID, arg.PeriodStart)
	var i UsageCounter
	err := row.Scan(
		&i.UserID,
		&i.PeriodStart,
		&i.PeriodEnd,
		&i.PacksCreated,
		&i.UpdatedAt,
	)
	return i, err
}

const incrementPackUsage = `-- name: IncrementPackUsage :one
SELECT new_count, applied, accepted
FROM increment_pack_usage($1, $2, $3, $4, $5, $6)
`

type IncrementPackUsageParams struct {
	UserID         uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	IdempotencyKey string
	Source         string
	Ceiling        int32
}

type IncrementPackUsageRow struct {
	NewCount int32
	Applied  bool
	Accepted bool
}

func (q *Queries) IncrementPackUsage(ctx context.Context, arg IncrementPackUsageParams) (IncrementPackUsageRow, error) {
	row := q.db.QueryRow(ctx, incrementPackUsage,
		arg.UserID,
		arg.PeriodStart,
		arg.PeriodEnd,
		arg.IdempotencyKey,
		arg.Source,
		arg.Ceiling,
	)
	var i IncrementPackUsageRow
	var newCount *int32
	err := row.Scan(&newCount, &i.Applied, &i.Accepted)
	if newCount != nil {
		i.NewCount = *newCount
	}
	return i, err
}

const getQuotaConsumption = `-- name: GetQuotaConsumption :one
SELECT idempotency_key, user_id, source, quantity, result_value, created_at
FROM quota_consumptions
WHERE idempotency_key = $1
`

func (q *Queries) GetQuotaConsumption(ctx context.Context, idempotencyKey string) (QuotaConsumption, error) {
	row := q.db.QueryRow(ctx, getQuotaConsumption, idempotencyKey)
	var i QuotaConsumption
	err := row.Scan(
		&i.IdempotencyKey,
		&i.UserID,
		&i.Source,
		&i.Quantity,
		&i.ResultValue,
		&i.CreatedAt,
	)
	return i, err
}
