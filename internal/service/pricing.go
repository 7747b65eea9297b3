package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
)

// PricingService resolves the prices a user is shown.
type PricingService interface {
	// GetPricingForUser returns catalog prices, or the locked snapshot when
	// the user holds an active price lock. A nil userID means anonymous.
	GetPricingForUser(ctx context.Context, userID *uuid.UUID) (domain.Pricing, error)
}

type pricingService struct {
	benefits BenefitService
	catalog  domain.CatalogPrices
	now      func() time.Time
}

// NewPricingService creates a new PricingService.
func NewPricingService(benefits BenefitService, catalog domain.CatalogPrices, opts ...Option) PricingService {
	o := buildOptions(opts)
	return &pricingService{
		benefits: benefits,
		catalog:  catalog,
		now:      o.now,
	}
}

func (s *pricingService) GetPricingForUser(ctx context.Context, userID *uuid.UUID) (domain.Pricing, error) {
	live := domain.Pricing{
		StudentPro: s.catalog.StudentPro,
		ProPlus:    s.catalog.ProPlus,
	}
	if userID == nil {
		return live, nil
	}

	b, err := s.benefits.GetBenefits(ctx, *userID)
	if err != nil {
		return domain.Pricing{}, err
	}
	if !b.HasActivePriceLock(s.now()) {
		return live, nil
	}

	lock := b.FoundingPriceLock
	expires := lock.ExpiresAt
	return domain.Pricing{
		StudentPro:    lock.LockedPrices.StudentPro,
		ProPlus:       lock.LockedPrices.ProPlus,
		Locked:        true,
		LockExpiresAt: &expires,
	}, nil
}
