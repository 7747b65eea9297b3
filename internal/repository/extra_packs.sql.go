package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const extraPackPurchaseColumns = `id, user_id, quantity, amount_paid_cents, currency, payment_ref, purchased_at, expires_at,
    consumed, status, refunded_at, refund_amount_cents, created_at`

func scanExtraPackPurchase(row interface{ Scan(dest ...any) error }) (ExtraPackPurchase, error) {
	var i ExtraPackPurchase
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Quantity,
		&i.AmountPaidCents,
		&i.Currency,
		&i.PaymentRef,
		&i.PurchasedAt,
		&i.ExpiresAt,
		&i.Consumed,
		&i.Status,
		&i.RefundedAt,
		&i.RefundAmountCents,
		&i.CreatedAt,
	)
	return i, err
}

const createExtraPackPurchase = `-- name: CreateExtraPackPurchase :one
INSERT INTO extra_pack_purchases (
    user_id, quantity, amount_paid_cents, currency, payment_ref, purchased_at, expires_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
RETURNING ` + extraPackPurchaseColumns

type CreateExtraPackPurchaseParams struct {
	UserID          uuid.UUID
	Quantity        int32
	AmountPaidCents int64
	Currency        string
	PaymentRef      string
	PurchasedAt     time.Time
	ExpiresAt       time.Time
}

func (q *Queries) CreateExtraPackPurchase(ctx context.Context, arg CreateExtraPackPurchaseParams) (ExtraPackPurchase, error) {
	row := q.db.QueryRow(ctx, createExtraPackPurchase,
		arg.UserID,
		arg.Quantity,
		arg.AmountPaidCents,
		arg.Currency,
		arg.PaymentRef,
		arg.PurchasedAt,
		arg.ExpiresAt,
	)
	return scanExtraPackPurchase(row)
}

const getExtraPackPurchase = `-- name: GetExtraPackPurchase :one
SELECT ` + extraPackPurchaseColumns + `
FROM extra_pack_purchases
WHERE id = $1
`

func (q *Queries) GetExtraPackPurchase(ctx context.Context, id uuid.UUID) (ExtraPackPurchase, error) {
	row := q.db.QueryRow(ctx, getExtraPackPurchase, id)
	return scanExtraPackPurchase(row)
}

const getExtraPackPurchaseByPaymentRef = `-- name: GetExtraPackPurchaseByPaymentRef :one
SELECT ` + extraPackPurchaseColumns + `
FROM extra_pack_purchases
WHERE payment_ref = $1
`

func (q *Queries) GetExtraPackPurchaseByPaymentRef(ctx context.Context, paymentRef string) (ExtraPackPurchase, error) {
	row := q.db.QueryRow(ctx, getExtraPackPurchaseByPaymentRef, paymentRef)
	return scanExtraPackPurchase(row)
}

const listUsableExtraPackPurchases = `-- name: ListUsableExtraPackPurchases :many
SELECT ` + extraPackPurchaseColumns + `
FROM extra_pack_purchases
WHERE user_id = $1
  AND status = 'active'
  AND expires_at > $2
  AND consumed < quantity
ORDER BY expires_at, purchased_at, id
`

type ListUsableExtraPackPurchasesParams struct {
	UserID uuid.UUID
	Now    time.Time
}

func (q *Queries) ListUsableExtraPackPurchases(ctx context.Context, arg ListUsableExtraPackPurchasesParams) ([]ExtraPackPurchase, error) {
	rows, err := q.db.Query(ctx, listUsableExtraPackPurchases, arg.UserID, arg.Now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExtraPackPurchase
	for rows.Next() {
		i, err := scanExtraPackPurchase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const consumeExtraPacks = `-- name: ConsumeExtraPacks :one
SELECT success, applied, new_balance
FROM consume_extra_packs($1, $2, $3, $4)
`

type ConsumeExtraPacksParams struct {
	UserID         uuid.UUID
	Count          int32
	IdempotencyKey string
	Now            time.Time
}

type ConsumeExtraPacksRow struct {
	Success    bool
	Applied    bool
	NewBalance int32
}

func (q *Queries) ConsumeExtraPacks(ctx context.Context, arg ConsumeExtraPacksParams) (ConsumeExtraPacksRow, error) {
	row := q.db.QueryRow(ctx, consumeExtraPacks, arg.UserID, arg.Count, arg.IdempotencyKey, arg.Now)
	var i ConsumeExtraPacksRow
	err := row.Scan(&i.Success, &i.Applied, &i.NewBalance)
	return i, err
}

// Refund is only recorded for an untouched, unrefunded purchase. No row is
// returned when the guard fails.
const refundExtraPackPurchase = `-- name: RefundExtraPackPurchase :one
UPDATE extra_pack_purchases
SET status = 'refunded', refunded_at = $2, refund_amount_cents = $3
WHERE id = $1
  AND status <> 'refunded'
  AND consumed = 0
RETURNING ` + extraPackPurchaseColumns

type RefundExtraPackPurchaseParams struct {
	ID                uuid.UUID
	RefundedAt        time.Time
	RefundAmountCents int64
}

func (q *Queries) RefundExtraPackPurchase(ctx context.Context, arg RefundExtraPackPurchaseParams) (ExtraPackPurchase, error) {
	row := q.db.QueryRow(ctx, refundExtraPackPurchase, arg.ID, arg.RefundedAt, arg.RefundAmountCents)
	return scanExtraPackPurchase(row)
}

const expireExtraPackPurchases = `-- name: ExpireExtraPackPurchases :one
WITH expired AS (
    UPDATE extra_pack_purchases
    SET status = 'expired'
    WHERE status = 'active'
      AND expires_at < $1
    RETURNING user_id
)
SELECT count(*) AS expired, count(DISTINCT user_id) AS users_affected
FROM expired
`

type ExpireExtraPackPurchasesRow struct {
	Expired       int64
	UsersAffected int64
}

func (q *Queries) ExpireExtraPackPurchases(ctx context.Context, now time.Time) (ExpireExtraPackPurchasesRow, error) {
	row := q.db.QueryRow(ctx, expireExtraPackPurchases, now)
	var i ExpireExtraPackPurchasesRow
	err := row.Scan(&i.Expired, &i.UsersAffected)
	return i, err
}
