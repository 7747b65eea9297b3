package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/worker"
)

// ExtraPackExpirer runs the extra pack expiry sweep.
type ExtraPackExpirer interface {
	ExpirePurchases(ctx context.Context) (domain.SweepResult, error)
}

// TrialExpirer runs the trial expiry sweep.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context) (int64, error)
}

// ExpireExtraPacksHandler flips lapsed extra pack purchases to expired.
type ExpireExtraPacksHandler struct {
	extras ExtraPackExpirer
	logger *slog.Logger
}

// NewExpireExtraPacksHandler creates the extra pack sweep handler.
func NewExpireExtraPacksHandler(extras ExtraPackExpirer, logger *slog.Logger) *ExpireExtraPacksHandler {
	return &ExpireExtraPacksHandler{extras: extras, logger: logger}
}

func (h *ExpireExtraPacksHandler) Type() string {
	return worker.JobTypeExpireExtraPacks
}

// Handle ignores the payload; the sweep has no parameters.
func (h *ExpireExtraPacksHandler) Handle(ctx context.Context, _ []byte) error {
	res, err := h.extras.ExpirePurchases(ctx)
	if err != nil {
		return fmt.Errorf("expire extra packs: %w", err)
	}
	h.logger.Info("extra pack sweep finished", "expired", res.Expired, "users_affected", res.UsersAffected)
	return nil
}

// ExpireTrialsHandler reverts lapsed trial plans to free.
type ExpireTrialsHandler struct {
	benefits TrialExpirer
	logger   *slog.Logger
}

// NewExpireTrialsHandler creates the trial sweep handler.
func NewExpireTrialsHandler(benefits TrialExpirer, logger *slog.Logger) *ExpireTrialsHandler {
	return &ExpireTrialsHandler{benefits: benefits, logger: logger}
}

func (h *ExpireTrialsHandler) Type() string {
	return worker.JobTypeExpireTrials
}

func (h *ExpireTrialsHandler) Handle(ctx context.Context, _ []byte) error {
	n, err := h.benefits.ExpireTrials(ctx)
	if err != nil {
		return fmt.Errorf("expire trials: %w", err)
	}
	h.logger.Info("trial sweep finished", "expired", n)
	return nil
}
