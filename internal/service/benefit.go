// Package service contains the business logic layer.
//
// This file implements waitlist benefits: a one-time trial of a paid plan
// and a founding price lock, granted together at signup.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/repository"
)

// trialSweepBatch bounds how many users one sweep query returns.
const trialSweepBatch = 500

// =============================================================================
// Interface Definition
// =============================================================================

// BenefitService grants and evaluates waitlist benefits.
type BenefitService interface {
	// ApplyWaitlistBenefits grants the trial and price lock in one statement.
	// Returns domain.ECONFLICT if the user already holds benefits.
	ApplyWaitlistBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error)

	// GetBenefits returns nil, nil when the user has none.
	GetBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error)

	HasActivePriceLock(ctx context.Context, userID uuid.UUID) (bool, error)
	IsInTrial(ctx context.Context, userID uuid.UUID) (bool, error)

	// ExpireTrial reverts a lapsed plan to free. Safe to call repeatedly;
	// reports whether anything changed.
	ExpireTrial(ctx context.Context, userID uuid.UUID) (bool, error)

	// GetTrialDaysRemaining returns nil when the user never had a trial.
	GetTrialDaysRemaining(ctx context.Context, userID uuid.UUID) (*int, error)

	// ExpireTrials runs ExpireTrial for every user whose plan has lapsed.
	ExpireTrials(ctx context.Context) (int64, error)
}

// BenefitStore is the persistence needed by BenefitService.
type BenefitStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (repository.User, error)
	GetUserBenefits(ctx context.Context, userID uuid.UUID) (repository.UserBenefit, error)
	ApplyWaitlistBenefits(ctx context.Context, arg repository.ApplyWaitlistBenefitsParams) (repository.UserBenefit, error)
	ExpireTrial(ctx context.Context, arg repository.ExpireTrialParams) (int64, error)
	ListUsersWithLapsedPlan(ctx context.Context, arg repository.ListUsersWithLapsedPlanParams) ([]uuid.UUID, error)
}

// =============================================================================
// Implementation
// =============================================================================

type benefitService struct {
	store  BenefitStore
	prices domain.CatalogPrices
	logger *slog.Logger
	now    func() time.Time
}

// NewBenefitService creates a new BenefitService. prices is the live catalog
// snapshotted into each price lock.
func NewBenefitService(store BenefitStore, prices domain.CatalogPrices, logger *slog.Logger, opts ...Option) BenefitService {
	o := buildOptions(opts)
	return &benefitService{
		store:  store,
		prices: prices,
		logger: logger,
		now:    o.now,
	}
}

func (s *benefitService) ApplyWaitlistBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error) {
	const op = "benefit.apply_waitlist_benefits"

	benefits := domain.NewWaitlistBenefits(s.now(), s.prices)
	locked, err := json.Marshal(benefits.FoundingPriceLock.LockedPrices)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode locked prices")
	}

	row, err := s.store.ApplyWaitlistBenefits(ctx, repository.ApplyWaitlistBenefitsParams{
		UserID:             userID,
		PriceLockExpiresAt: benefits.FoundingPriceLock.ExpiresAt,
		LockedPrices:       locked,
		TrialPlan:          string(benefits.Trial.Plan),
		GrantedAt:          benefits.GrantedAt,
		TrialExpiresAt:     benefits.Trial.ExpiresAt,
	})
	if err != nil {
		if !repository.IsNotFound(err) {
			s.logger.Error("failed to apply waitlist benefits", "op", op, "user_id", userID, "error", err)
			return nil, domain.Internal(err, op, "failed to apply waitlist benefits")
		}
		// Nothing was written: either no such user or benefits already granted.
		if _, err := s.getUser(ctx, op, userID); err != nil {
			return nil, err
		}
		return nil, domain.Conflict(op, "waitlist benefits have already been applied")
	}

	granted, err := benefitsFromRow(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to decode granted benefits")
	}

	metrics.BenefitsGrantedTotal.Inc()
	s.logger.Info("waitlist benefits applied",
		"user_id", userID,
		"trial_plan", granted.Trial.Plan,
		"trial_expires_at", granted.Trial.ExpiresAt,
		"price_lock_expires_at", granted.FoundingPriceLock.ExpiresAt,
	)
	return granted, nil
}

func (s *benefitService) GetBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error) {
	const op = "benefit.get_benefits"

	row, err := s.store.GetUserBenefits(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, domain.Internal(err, op, "failed to get user benefits")
	}

	b, err := benefitsFromRow(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to decode user benefits")
	}
	return b, nil
}

func (s *benefitService) HasActivePriceLock(ctx context.Context, userID uuid.UUID) (bool, error) {
	b, err := s.GetBenefits(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.HasActivePriceLock(s.now()), nil
}

func (s *benefitService) IsInTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	const op = "benefit.is_in_trial"

	user, err := s.getUser(ctx, op, userID)
	if err != nil {
		return false, err
	}
	b, err := s.GetBenefits(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.InTrial(user.Plan, s.now()), nil
}

func (s *benefitService) ExpireTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	const op = "benefit.expire_trial"

	n, err := s.store.ExpireTrial(ctx, repository.ExpireTrialParams{
		UserID:       userID,
		FallbackPlan: string(domain.TrialExpiryFallback),
		Now:          s.now(),
	})
	if err != nil {
		return false, domain.Internal(err, op, "failed to expire trial")
	}
	if n > 0 {
		s.logger.Info("trial expired", "user_id", userID, "plan", domain.TrialExpiryFallback)
	}
	return n > 0, nil
}

func (s *benefitService) GetTrialDaysRemaining(ctx context.Context, userID uuid.UUID) (*int, error) {
	b, err := s.GetBenefits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil || b.Trial == nil {
		return nil, nil
	}
	days := b.Trial.DaysRemaining(s.now())
	return &days, nil
}

func (s *benefitService) ExpireTrials(ctx context.Context) (int64, error) {
	const op = "benefit.expire_trials"

	var expired int64
	for {
		ids, err := s.store.ListUsersWithLapsedPlan(ctx, repository.ListUsersWithLapsedPlanParams{
			Now:   s.now(),
			Limit: trialSweepBatch,
		})
		if err != nil {
			metrics.SweepFailed("trials")
			return expired, domain.Internal(err, op, "failed to list lapsed trials")
		}

		var changed int64
		for _, id := range ids {
			ok, err := s.ExpireTrial(ctx, id)
			if err != nil {
				metrics.SweepFailed("trials")
				return expired, err
			}
			if ok {
				changed++
			}
		}
		expired += changed

		// A short batch is the last one. A batch where nothing changed means
		// the rows are being rewritten elsewhere; stop rather than spin.
		if len(ids) < trialSweepBatch || changed == 0 {
			break
		}
	}

	metrics.SweepCompleted("trials", expired)
	if expired > 0 {
		s.logger.Info("trials expired", "count", expired)
	}
	return expired, nil
}

func (s *benefitService) getUser(ctx context.Context, op string, userID uuid.UUID) (*domain.User, error) {
	row, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "user", userID.String())
		}
		return nil, domain.Internal(err, op, "failed to get user")
	}
	return userFromRow(row), nil
}
