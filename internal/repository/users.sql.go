package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getUser = `-- name: GetUser :one
SELECT id, email, plan, plan_expires_at, billing_anchor_day, from_waitlist, created_at, updated_at
FROM users
WHERE id = $1
`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, getUser, id)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.Plan,
		&i.PlanExpiresAt,
		&i.BillingAnchorDay,
		&i.FromWaitlist,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getUserBenefits = `-- name: GetUserBenefits :one
SELECT user_id, price_lock_enabled, price_lock_expires_at, locked_prices, trial_plan, trial_started_at, trial_expires_at, granted_at
FROM user_benefits
WHERE user_id = $1
`

func (q *Queries) GetUserBenefits(ctx context.Context, userID uuid.UUID) (UserBenefit, error) {
	row := q.db.QueryRow(ctx, getUserBenefits, userID)
	var i UserBenefit
	err := row.Scan(
		&i.UserID,
		&i.PriceLockEnabled,
		&i.PriceLockExpiresAt,
		&i.LockedPrices,
		&i.TrialPlan,
		&i.TrialStartedAt,
		&i.TrialExpiresAt,
		&i.GrantedAt,
	)
	return i, err
}

// The insert and the plan update run as one statement: either the benefit
// row and the user's trial plan both land, or neither does. No row is
// returned when the user is missing or already holds benefits.
const applyWaitlistBenefits = `-- name: ApplyWaitlistBenefits :one
WITH target AS (
    SELECT id FROM users WHERE id = $1 FOR UPDATE
), granted AS (
    INSERT INTO user_benefits (
        user_id, price_lock_enabled, price_lock_expires_at, locked_prices,
        trial_plan, trial_started_at, trial_expires_at, granted_at
    )
    SELECT id, TRUE, $2::timestamptz, $3::jsonb, $4::text, $5::timestamptz, $6::timestamptz, $5::timestamptz FROM target
    ON CONFLICT (user_id) DO NOTHING
    RETURNING user_id, price_lock_enabled, price_lock_expires_at, locked_prices,
        trial_plan, trial_started_at, trial_expires_at, granted_at
), promoted AS (
    UPDATE users u
    SET plan = g.trial_plan, plan_expires_at = g.trial_expires_at, from_waitlist = TRUE, updated_at = g.granted_at
    FROM granted g
    WHERE u.id = g.user_id
    RETURNING u.id
)
SELECT g.user_id, g.price_lock_enabled, g.price_lock_expires_at, g.locked_prices,
    g.trial_plan, g.trial_started_at, g.trial_expires_at, g.granted_at
FROM granted g
`

type ApplyWaitlistBenefitsParams struct {
	UserID             uuid.UUID
	PriceLockExpiresAt time.Time
	LockedPrices       []byte
	TrialPlan          string
	GrantedAt          time.Time
	TrialExpiresAt     time.Time
}

func (q *Queries) ApplyWaitlistBenefits(ctx context.Context, arg ApplyWaitlistBenefitsParams) (UserBenefit, error) {
	row := q.db.QueryRow(ctx, applyWaitlistBenefits,
		arg.UserID,
		arg.PriceLockExpiresAt,
		arg.LockedPrices,
		arg.TrialPlan,
		arg.GrantedAt,
		arg.TrialExpiresAt,
	)
	var i UserBenefit
	err := row.Scan(
		&i.UserID,
		&i.PriceLockEnabled,
		&i.PriceLockExpiresAt,
		&i.LockedPrices,
		&i.TrialPlan,
		&i.TrialStartedAt,
		&i.TrialExpiresAt,
		&i.GrantedAt,
	)
	return i, err
}

// Only lapsed plans are reverted, so a paid plan set after the trial is left alone.
const expireTrial = `-- name: ExpireTrial :execrows
UPDATE users
SET plan = $2, plan_expires_at = NULL, updated_at = $3
WHERE id = $1
  AND plan_expires_at IS NOT NULL
  AND plan_expires_at <= $3
`

type ExpireTrialParams struct {
	UserID       uuid.UUID
	FallbackPlan string
	Now          time.Time
}

func (q *Queries) ExpireTrial(ctx context.Context, arg ExpireTrialParams) (int64, error) {
	result, err := q.db.Exec(ctx, expireTrial, arg.UserID, arg.FallbackPlan, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listUsersWithLapsedPlan = `-- name: ListUsersWithLapsedPlan :many
SELECT id
FROM users
WHERE plan_expires_at IS NOT NULL
  AND plan_expires_at <= $1
ORDER BY plan_expires_at
LIMIT $2
`

type ListUsersWithLapsedPlanParams struct {
	Now   time.Time
	Limit int32
}

func (q *Queries) ListUsersWithLapsedPlan(ctx context.Context, arg ListUsersWithLapsedPlanParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listUsersWithLapsedPlan, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
