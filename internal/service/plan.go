// Package service contains the business logic layer.
//
// This file implements the plan catalog: per-tier limits read through a
// cache, with built-in defaults when the backing store is unavailable.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sappio-ai/sappio/internal/cache"
	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/repository"
)

// PlanLimitsCacheTTL is how long a fetched tier stays cached.
const PlanLimitsCacheTTL = 5 * time.Minute

// =============================================================================
// Interface Definition
// =============================================================================

// PlanService resolves plan tiers to their limits.
type PlanService interface {
	// GetPlanLimits never fails: on lookup failure it returns the built-in
	// defaults for the tier. Unknown tiers resolve to free.
	GetPlanLimits(ctx context.Context, tier domain.PlanTier) domain.PlanLimits

	// ClearCache drops every cached tier.
	ClearCache(ctx context.Context)
}

// PlanLimitStore is the persistence needed by PlanService.
type PlanLimitStore interface {
	GetPlanLimit(ctx context.Context, tier string) (repository.PlanLimit, error)
}

// =============================================================================
// Implementation
// =============================================================================

type planService struct {
	store   PlanLimitStore
	cache   cache.Cache[domain.PlanLimits]
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[domain.PlanLimits]
	logger  *slog.Logger
}

// NewPlanService creates a PlanService. The cache is owned by the caller so
// instances can be isolated (tests) or shared through Redis (production).
func NewPlanService(store PlanLimitStore, c cache.Cache[domain.PlanLimits], logger *slog.Logger) PlanService {
	s := &planService{
		store:  store,
		cache:  c,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker[domain.PlanLimits](gobreaker.Settings{
		Name:        "plan_limits",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || repository.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *planService) GetPlanLimits(ctx context.Context, tier domain.PlanTier) domain.PlanLimits {
	const op = "plan.get_plan_limits"

	if !tier.IsValid() {
		tier = domain.PlanFree
	}
	key := string(tier)

	if limits, ok := s.cache.Get(ctx, key); ok {
		metrics.PlanLimitLookupsTotal.WithLabelValues("hit").Inc()
		return limits
	}
	metrics.PlanLimitLookupsTotal.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Shared by every waiter on this key, so one caller going away must
		// not fail the lookup for the rest.
		ctx := context.WithoutCancel(ctx)
		limits, err := s.breaker.Execute(func() (domain.PlanLimits, error) {
			row, err := s.store.GetPlanLimit(ctx, key)
			if err != nil {
				return domain.PlanLimits{}, err
			}
			return planLimitsFromRow(row), nil
		})
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, key, limits)
		return limits, nil
	})
	if err != nil {
		metrics.PlanLimitFallbacksTotal.WithLabelValues(key).Inc()
		s.logger.Warn("plan limits unavailable, using defaults",
			"op", op,
			"tier", tier,
			"not_found", repository.IsNotFound(err),
			"error", err,
		)
		return domain.GetDefaultPlanLimits(tier)
	}

	return v.(domain.PlanLimits)
}

func (s *planService) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
	s.logger.Info("plan limits cache cleared")
}

func planLimitsFromRow(row repository.PlanLimit) domain.PlanLimits {
	return domain.PlanLimits{
		Tier:                domain.PlanTier(row.Tier),
		PacksPerMonth:       int(row.PacksPerMonth),
		MaxCardsPerPack:     int(row.MaxCardsPerPack),
		MaxQuestionsPerQuiz: int(row.MaxQuestionsPerQuiz),
		MaxMindmapNodes:     int(row.MaxMindmapNodes),
		PriorityProcessing:  row.PriorityProcessing,
	}
}
