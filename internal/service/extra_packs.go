// Package service contains the business logic layer.
//
// This file implements the bonus credit ledger: extra pack purchases with a
// six month lifetime, consumed oldest-expiry first.
package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ExtraPackService manages purchased bonus packs.
type ExtraPackService interface {
	// GetAvailableBalance sums active purchases that have not expired at
	// read time, whether or not the expiry sweep has run.
	GetAvailableBalance(ctx context.Context, userID uuid.UUID) (domain.ExtraPackBalance, error)

	// CreatePurchase records a paid bundle. Returns domain.ECONFLICT when the
	// payment reference was already recorded.
	CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*domain.ExtraPackPurchase, error)

	// ConsumeExtraPacks charges count packs across purchases, all or nothing.
	// Repeating a call with the same key returns the first result.
	ConsumeExtraPacks(ctx context.Context, userID uuid.UUID, count int, idempotencyKey string) (domain.ExtraPackConsumption, error)

	// GetPurchaseByPaymentRef finds the purchase recorded for a payment.
	GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*domain.ExtraPackPurchase, error)

	// CanRefund reports eligibility; ineligibility is a result, not an error.
	CanRefund(ctx context.Context, purchaseID uuid.UUID) (domain.RefundEligibility, error)

	// ProcessRefund marks an eligible purchase refunded. Returns
	// domain.ECONFLICT with the ineligibility reason otherwise.
	ProcessRefund(ctx context.Context, purchaseID uuid.UUID, amountCents int64) (*domain.ExtraPackPurchase, error)

	// ExpirePurchases flips lapsed active purchases to expired.
	ExpirePurchases(ctx context.Context) (domain.SweepResult, error)
}

// CreatePurchaseParams holds the fields of a confirmed payment.
type CreatePurchaseParams struct {
	UserID          uuid.UUID `validate:"required"`
	Quantity        int       `validate:"oneof=10 30 75"`
	AmountPaidCents int64     `validate:"gte=0"`
	Currency        string    `validate:"required,len=3"`
	PaymentRef      string    `validate:"required,max=255"`
}

// ExtraPackStore is the persistence needed by ExtraPackService.
type ExtraPackStore interface {
	CreateExtraPackPurchase(ctx context.Context, arg repository.CreateExtraPackPurchaseParams) (repository.ExtraPackPurchase, error)
	GetExtraPackPurchase(ctx context.Context, id uuid.UUID) (repository.ExtraPackPurchase, error)
	GetExtraPackPurchaseByPaymentRef(ctx context.Context, paymentRef string) (repository.ExtraPackPurchase, error)
	ListUsableExtraPackPurchases(ctx context.Context, arg repository.ListUsableExtraPackPurchasesParams) ([]repository.ExtraPackPurchase, error)
	ConsumeExtraPacks(ctx context.Context, arg repository.ConsumeExtraPacksParams) (repository.ConsumeExtraPacksRow, error)
	RefundExtraPackPurchase(ctx context.Context, arg repository.RefundExtraPackPurchaseParams) (repository.ExtraPackPurchase, error)
	ExpireExtraPackPurchases(ctx context.Context, now time.Time) (repository.ExpireExtraPackPurchasesRow, error)
}

// =============================================================================
// Implementation
// =============================================================================

type extraPackService struct {
	store  ExtraPackStore
	logger *slog.Logger
	now    func() time.Time
}

// NewExtraPackService creates a new ExtraPackService.
func NewExtraPackService(store ExtraPackStore, logger *slog.Logger, opts ...Option) ExtraPackService {
	o := buildOptions(opts)
	return &extraPackService{
		store:  store,
		logger: logger,
		now:    o.now,
	}
}

func (s *extraPackService) GetAvailableBalance(ctx context.Context, userID uuid.UUID) (domain.ExtraPackBalance, error) {
	const op = "extra_packs.get_available_balance"

	now := s.now()
	rows, err := s.store.ListUsableExtraPackPurchases(ctx, repository.ListUsableExtraPackPurchasesParams{
		UserID: userID,
		Now:    now,
	})
	if err != nil {
		return domain.ExtraPackBalance{}, domain.Internal(err, op, "failed to list extra pack purchases")
	}

	purchases := make([]domain.ExtraPackPurchase, 0, len(rows))
	for _, row := range rows {
		purchases = append(purchases, purchaseFromRow(row))
	}

	// Re-filter in process: the balance at read time is authoritative.
	return domain.NewExtraPackBalance(purchases, now), nil
}

func (s *extraPackService) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*domain.ExtraPackPurchase, error) {
	const op = "extra_packs.create_purchase"

	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row, err := s.store.CreateExtraPackPurchase(ctx, repository.CreateExtraPackPurchaseParams{
		UserID:          params.UserID,
		Quantity:        int32(params.Quantity),
		AmountPaidCents: params.AmountPaidCents,
		Currency:        params.Currency,
		PaymentRef:      params.PaymentRef,
		PurchasedAt:     now,
		ExpiresAt:       domain.AddMonths(now, domain.ExtraPackValidityMonths),
	})
	if err != nil {
		switch {
		case repository.IsDuplicateKey(err):
			return nil, domain.Conflict(op, "payment has already been recorded")
		case repository.IsForeignKeyViolation(err):
			return nil, domain.NotFound(op, "user", params.UserID.String())
		}
		return nil, domain.Internal(err, op, "failed to create extra pack purchase")
	}

	metrics.ExtraPacksPurchasedTotal.WithLabelValues(strconv.Itoa(params.Quantity)).Inc()
	s.logger.Info("extra packs purchased",
		"user_id", params.UserID,
		"purchase_id", row.ID,
		"quantity", params.Quantity,
		"expires_at", row.ExpiresAt,
	)

	p := purchaseFromRow(row)
	return &p, nil
}

func (s *extraPackService) ConsumeExtraPacks(ctx context.Context, userID uuid.UUID, count int, idempotencyKey string) (domain.ExtraPackConsumption, error) {
	const op = "extra_packs.consume"

	if count < 1 {
		return domain.ExtraPackConsumption{}, domain.Invalid(op, "count must be at least 1")
	}
	if idempotencyKey == "" {
		return domain.ExtraPackConsumption{}, domain.Invalid(op, "idempotency key is required")
	}

	row, err := s.store.ConsumeExtraPacks(ctx, repository.ConsumeExtraPacksParams{
		UserID:         userID,
		Count:          int32(count),
		IdempotencyKey: idempotencyKey,
		Now:            s.now(),
	})
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return domain.ExtraPackConsumption{}, domain.Conflict(op, "idempotency key belongs to another user")
		}
		s.logger.Error("failed to consume extra packs",
			"op", op,
			"user_id", userID,
			"idempotency_key", idempotencyKey,
			"error", err,
		)
		return domain.ExtraPackConsumption{}, domain.Internal(err, op, "failed to consume extra packs")
	}

	result := domain.ExtraPackConsumption{
		Success:    row.Success,
		NewBalance: int(row.NewBalance),
		Replayed:   row.Success && !row.Applied,
	}
	if !result.Success {
		s.logger.Info("insufficient extra packs",
			"user_id", userID,
			"requested", count,
			"balance", result.NewBalance,
		)
	}
	return result, nil
}

func (s *extraPackService) GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*domain.ExtraPackPurchase, error) {
	const op = "extra_packs.get_purchase_by_payment_ref"

	row, err := s.store.GetExtraPackPurchaseByPaymentRef(ctx, paymentRef)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "extra pack purchase", paymentRef)
		}
		return nil, domain.Internal(err, op, "failed to get extra pack purchase")
	}
	p := purchaseFromRow(row)
	return &p, nil
}

func (s *extraPackService) CanRefund(ctx context.Context, purchaseID uuid.UUID) (domain.RefundEligibility, error) {
	const op = "extra_packs.can_refund"

	p, err := s.getPurchase(ctx, op, purchaseID)
	if err != nil {
		return domain.RefundEligibility{}, err
	}
	return p.CheckRefund(s.now()), nil
}

func (s *extraPackService) ProcessRefund(ctx context.Context, purchaseID uuid.UUID, amountCents int64) (*domain.ExtraPackPurchase, error) {
	const op = "extra_packs.process_refund"

	if amountCents < 0 {
		return nil, domain.Invalid(op, "refund amount must not be negative")
	}

	p, err := s.getPurchase(ctx, op, purchaseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if eligibility := p.CheckRefund(now); !eligibility.Allowed {
		metrics.ExtraPackRefundsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.Conflict(op, eligibility.Reason)
	}

	row, err := s.store.RefundExtraPackPurchase(ctx, repository.RefundExtraPackPurchaseParams{
		ID:                purchaseID,
		RefundedAt:        now,
		RefundAmountCents: amountCents,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			// A consumption or another refund landed after the eligibility read.
			metrics.ExtraPackRefundsTotal.WithLabelValues("rejected").Inc()
			return nil, domain.Conflict(op, "purchase is no longer refundable")
		}
		return nil, domain.Internal(err, op, "failed to refund extra pack purchase")
	}

	metrics.ExtraPackRefundsTotal.WithLabelValues("refunded").Inc()
	s.logger.Info("extra pack purchase refunded",
		"purchase_id", purchaseID,
		"user_id", row.UserID,
		"amount_cents", amountCents,
	)

	refunded := purchaseFromRow(row)
	return &refunded, nil
}

func (s *extraPackService) ExpirePurchases(ctx context.Context) (domain.SweepResult, error) {
	const op = "extra_packs.expire_purchases"

	row, err := s.store.ExpireExtraPackPurchases(ctx, s.now())
	if err != nil {
		metrics.SweepFailed("extra_packs")
		return domain.SweepResult{}, domain.Internal(err, op, "failed to expire extra pack purchases")
	}

	metrics.SweepCompleted("extra_packs", row.Expired)
	if row.Expired > 0 {
		s.logger.Info("extra pack purchases expired",
			"expired", row.Expired,
			"users_affected", row.UsersAffected,
		)
	}

	return domain.SweepResult{Expired: row.Expired, UsersAffected: row.UsersAffected}, nil
}

func (s *extraPackService) getPurchase(ctx context.Context, op string, id uuid.UUID) (*domain.ExtraPackPurchase, error) {
	row, err := s.store.GetExtraPackPurchase(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "extra pack purchase", id.String())
		}
		return nil, domain.Internal(err, op, "failed to get extra pack purchase")
	}
	p := purchaseFromRow(row)
	return &p, nil
}
