package service

import (
	"encoding/json"
	"fmt"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/repository"
)

func userFromRow(row repository.User) *domain.User {
	return &domain.User{
		ID:               row.ID,
		Email:            row.Email,
		Plan:             domain.PlanTier(row.Plan),
		PlanExpiresAt:    row.PlanExpiresAt,
		BillingAnchorDay: int(row.BillingAnchorDay),
		FromWaitlist:     row.FromWaitlist,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func purchaseFromRow(row repository.ExtraPackPurchase) domain.ExtraPackPurchase {
	return domain.ExtraPackPurchase{
		ID:                row.ID,
		UserID:            row.UserID,
		Quantity:          int(row.Quantity),
		AmountPaidCents:   row.AmountPaidCents,
		Currency:          row.Currency,
		PaymentRef:        row.PaymentRef,
		PurchasedAt:       row.PurchasedAt,
		ExpiresAt:         row.ExpiresAt,
		Consumed:          int(row.Consumed),
		Status:            domain.PurchaseStatus(row.Status),
		RefundedAt:        row.RefundedAt,
		RefundAmountCents: row.RefundAmountCents,
	}
}

// benefitsFromRow decodes the typed benefit record. A malformed price
// snapshot is an error rather than a silently unlocked price.
func benefitsFromRow(row repository.UserBenefit) (*domain.Benefits, error) {
	b := &domain.Benefits{GrantedAt: row.GrantedAt}

	if row.PriceLockExpiresAt != nil {
		lock := &domain.FoundingPriceLock{
			Enabled:   row.PriceLockEnabled,
			ExpiresAt: *row.PriceLockExpiresAt,
		}
		if len(row.LockedPrices) > 0 {
			if err := json.Unmarshal(row.LockedPrices, &lock.LockedPrices); err != nil {
				return nil, fmt.Errorf("decode locked prices: %w", err)
			}
		}
		b.FoundingPriceLock = lock
	}

	if row.TrialPlan != nil && row.TrialStartedAt != nil && row.TrialExpiresAt != nil {
		b.Trial = &domain.Trial{
			Plan:      domain.PlanTier(*row.TrialPlan),
			StartedAt: *row.TrialStartedAt,
			ExpiresAt: *row.TrialExpiresAt,
		}
	}

	return b, nil
}
