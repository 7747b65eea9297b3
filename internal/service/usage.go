// Package service contains the business logic layer.
//
// This file implements the entitlement engine. Packs are charged in a fixed
// order: the monthly allowance, then a single grace pack at the limit, then
// purchased extra packs.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService answers "can this user create a pack" and charges packs.
type UsageService interface {
	// CanCreatePack is a read-only evaluation. A denial is a result with
	// Reason set, never an error.
	CanCreatePack(ctx context.Context, userID uuid.UUID) (domain.QuotaDecision, error)

	// ConsumePackQuota charges one pack exactly once per idempotency key.
	// On storage failure it returns Success false together with the error;
	// the call is then safe to retry with the same key.
	ConsumePackQuota(ctx context.Context, userID uuid.UUID, idempotencyKey string) (domain.ConsumeResult, error)

	// GetUsageStats builds the usage read-model for display.
	GetUsageStats(ctx context.Context, userID uuid.UUID) (domain.UsageStats, error)
}

// UsageStore is the persistence needed by UsageService.
type UsageStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (repository.User, error)
	GetUsageCounter(ctx context.Context, arg repository.GetUsageCounterParams) (repository.UsageCounter, error)
	IncrementPackUsage(ctx context.Context, arg repository.IncrementPackUsageParams) (repository.IncrementPackUsageRow, error)
	GetQuotaConsumption(ctx context.Context, idempotencyKey string) (repository.QuotaConsumption, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	store  UsageStore
	plans  PlanService
	extras ExtraPackService
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(store UsageStore, plans PlanService, extras ExtraPackService, logger *slog.Logger, opts ...Option) UsageService {
	o := buildOptions(opts)
	return &usageService{
		store:  store,
		plans:  plans,
		extras: extras,
		logger: logger,
		now:    o.now,
	}
}

// usageSnapshot is everything one decision reads.
type usageSnapshot struct {
	plan   domain.PlanTier
	limits domain.PlanLimits
	period domain.BillingPeriod
	usage  int
	now    time.Time
}

func (s *usageService) snapshot(ctx context.Context, op string, userID uuid.UUID) (*usageSnapshot, error) {
	row, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "user", userID.String())
		}
		return nil, domain.Internal(err, op, "failed to get user")
	}
	user := userFromRow(row)

	now := s.now()
	plan := user.PlanAt(now)
	snap := &usageSnapshot{
		plan:   plan,
		limits: s.plans.GetPlanLimits(ctx, plan),
		period: domain.CurrentPeriod(user.AnchorDay(), now),
		now:    now,
	}

	counter, err := s.store.GetUsageCounter(ctx, repository.GetUsageCounterParams{
		UserID:      userID,
		PeriodStart: snap.period.Start,
	})
	switch {
	case err == nil:
		snap.usage = int(counter.PacksCreated)
	case repository.IsNotFound(err):
		// No pack created yet this period.
	default:
		return nil, domain.Internal(err, op, "failed to get usage counter")
	}

	return snap, nil
}

func (s *usageService) stats(ctx context.Context, op string, userID uuid.UUID) (*usageSnapshot, domain.UsageStats, error) {
	snap, err := s.snapshot(ctx, op, userID)
	if err != nil {
		return nil, domain.UsageStats{}, err
	}

	balance, err := s.extras.GetAvailableBalance(ctx, userID)
	if err != nil {
		return nil, domain.UsageStats{}, err
	}

	stats := domain.NewUsageStats(
		snap.plan,
		snap.period,
		snap.usage,
		snap.limits.PacksPerMonth,
		balance.Total,
		balance.ExpirationWarning(snap.now),
	)
	return snap, stats, nil
}

func (s *usageService) GetUsageStats(ctx context.Context, userID uuid.UUID) (domain.UsageStats, error) {
	const op = "usage.get_usage_stats"

	_, stats, err := s.stats(ctx, op, userID)
	return stats, err
}

func (s *usageService) CanCreatePack(ctx context.Context, userID uuid.UUID) (domain.QuotaDecision, error) {
	const op = "usage.can_create_pack"

	snap, stats, err := s.stats(ctx, op, userID)
	if err != nil {
		return domain.QuotaDecision{}, err
	}

	decision := domain.QuotaDecision{Usage: stats}
	source, ok := domain.DecideSource(snap.usage, snap.limits.PacksPerMonth, stats.ExtraPacksAvailable)
	if ok {
		decision.Allowed = true
		decision.ConsumptionSource = source
	} else {
		decision.Reason = domain.DenyReasonQuotaExceeded
		s.logger.Info("pack quota exceeded",
			"user_id", userID,
			"plan", snap.plan,
			"usage", snap.usage,
			"limit", snap.limits.PacksPerMonth,
		)
	}

	metrics.QuotaChecked(decision.Allowed, string(decision.ConsumptionSource))
	return decision, nil
}

func (s *usageService) ConsumePackQuota(ctx context.Context, userID uuid.UUID, idempotencyKey string) (domain.ConsumeResult, error) {
	const op = "usage.consume_pack_quota"

	if idempotencyKey == "" {
		return domain.ConsumeResult{}, domain.Invalid(op, "idempotency key is required")
	}

	// A key applied once keeps its original pool, even if the state that
	// routed it has since moved on.
	if replay, found, err := s.lookupConsumption(ctx, op, userID, idempotencyKey); err != nil || found {
		return replay, err
	}

	snap, err := s.snapshot(ctx, op, userID)
	if err != nil {
		metrics.QuotaConsumed("", "error")
		return domain.ConsumeResult{}, err
	}

	limit := snap.limits.PacksPerMonth
	if source, ok := domain.DecideSource(snap.usage, limit, 0); ok {
		row, err := s.store.IncrementPackUsage(ctx, repository.IncrementPackUsageParams{
			UserID:         userID,
			PeriodStart:    snap.period.Start,
			PeriodEnd:      snap.period.End,
			IdempotencyKey: idempotencyKey,
			Source:         string(source),
			Ceiling:        int32(limit + 1),
		})
		if err != nil {
			return s.consumeFailed(op, userID, idempotencyKey, source, err)
		}

		if row.Accepted {
			if !row.Applied {
				return s.replayed(ctx, op, userID, idempotencyKey, int(row.NewCount), source)
			}
			metrics.QuotaConsumed(string(source), "applied")
			if source == domain.SourceGrace {
				s.logger.Info("grace pack consumed", "user_id", userID, "period_start", snap.period.Start)
			}
			return domain.ConsumeResult{Success: true, NewCount: int(row.NewCount), Source: source}, nil
		}

		// Another request took the last monthly slot between our read and
		// the increment. Fall through to extra packs.
		s.logger.Debug("monthly allowance filled concurrently, trying extra packs",
			"user_id", userID,
			"usage", row.NewCount,
			"limit", limit,
		)
	}

	res, err := s.extras.ConsumeExtraPacks(ctx, userID, 1, idempotencyKey)
	if err != nil {
		return s.consumeFailed(op, userID, idempotencyKey, domain.SourceExtra, err)
	}
	if !res.Success {
		metrics.QuotaConsumed("", "denied")
		s.logger.Info("pack consumption denied",
			"user_id", userID,
			"plan", snap.plan,
			"usage", snap.usage,
			"limit", limit,
		)
		return domain.ConsumeResult{NewCount: snap.usage, Reason: domain.DenyReasonQuotaExceeded}, nil
	}
	if res.Replayed {
		return s.replayed(ctx, op, userID, idempotencyKey, res.NewBalance, domain.SourceExtra)
	}

	metrics.QuotaConsumed(string(domain.SourceExtra), "applied")
	return domain.ConsumeResult{Success: true, NewCount: res.NewBalance, Source: domain.SourceExtra}, nil
}

// lookupConsumption returns the stored result when the key was already applied.
func (s *usageService) lookupConsumption(ctx context.Context, op string, userID uuid.UUID, key string) (domain.ConsumeResult, bool, error) {
	rec, err := s.store.GetQuotaConsumption(ctx, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return domain.ConsumeResult{}, false, nil
		}
		metrics.QuotaConsumed("", "error")
		return domain.ConsumeResult{}, false, domain.Internal(err, op, "failed to look up idempotency key")
	}
	if rec.UserID != userID {
		return domain.ConsumeResult{}, false, domain.Conflict(op, "idempotency key belongs to another user")
	}

	source := domain.ConsumptionSource(rec.Source)
	metrics.QuotaConsumed(string(source), "replayed")
	return domain.ConsumeResult{
		Success:  true,
		NewCount: int(rec.ResultValue),
		Source:   source,
		Replayed: true,
	}, true, nil
}

// replayed resolves a replay detected inside the atomic routine. The ledger
// is the source of truth for which pool the key was charged to.
func (s *usageService) replayed(ctx context.Context, op string, userID uuid.UUID, key string, value int, routed domain.ConsumptionSource) (domain.ConsumeResult, error) {
	res, found, err := s.lookupConsumption(ctx, op, userID, key)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	if found {
		return res, nil
	}
	metrics.QuotaConsumed(string(routed), "replayed")
	return domain.ConsumeResult{Success: true, NewCount: value, Source: routed, Replayed: true}, nil
}

func (s *usageService) consumeFailed(op string, userID uuid.UUID, key string, source domain.ConsumptionSource, err error) (domain.ConsumeResult, error) {
	metrics.QuotaConsumed(string(source), "error")
	if repository.IsDuplicateKey(err) {
		return domain.ConsumeResult{}, domain.Conflict(op, "idempotency key belongs to another user")
	}
	s.logger.Error("pack consumption failed",
		"op", op,
		"user_id", userID,
		"idempotency_key", key,
		"source", source,
		"error", err,
	)
	var derr *domain.Error
	if errors.As(err, &derr) {
		return domain.ConsumeResult{}, err
	}
	return domain.ConsumeResult{}, domain.Internal(err, op, "failed to record pack consumption")
}
