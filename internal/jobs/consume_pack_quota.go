package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/worker"
)

// QuotaConsumer charges one pack per idempotency key.
type QuotaConsumer interface {
	ConsumePackQuota(ctx context.Context, userID uuid.UUID, idempotencyKey string) (domain.ConsumeResult, error)
}

// ErrQuotaExhausted is the permanent failure of a generation that cannot be charged.
var ErrQuotaExhausted = errors.New("pack quota exhausted")

// ConsumePackQuotaHandler charges the pack of a finished generation.
// It is retried on storage failure; the generation key keeps retries from
// charging twice.
type ConsumePackQuotaHandler struct {
	usage  QuotaConsumer
	logger *slog.Logger
}

// NewConsumePackQuotaHandler creates a new handler for pack consumption jobs.
func NewConsumePackQuotaHandler(usage QuotaConsumer, logger *slog.Logger) *ConsumePackQuotaHandler {
	return &ConsumePackQuotaHandler{
		usage:  usage,
		logger: logger,
	}
}

// Type returns the job type identifier.
func (h *ConsumePackQuotaHandler) Type() string {
	return worker.JobTypeConsumePackQuota
}

// Handle executes the consumption job.
func (h *ConsumePackQuotaHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ConsumePackQuotaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.UserID == uuid.Nil || p.GenerationID == "" {
		return worker.NewPermanentError(errors.New("payload requires user_id and generation_id"))
	}

	res, err := h.usage.ConsumePackQuota(ctx, p.UserID, p.IdempotencyKey())
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EINVALID, domain.ENOTFOUND, domain.ECONFLICT:
			return worker.NewPermanentError(err)
		}
		return fmt.Errorf("consume pack quota: %w", err)
	}

	if !res.Success {
		h.logger.Warn("generation finished without quota",
			"user_id", p.UserID,
			"generation_id", p.GenerationID,
			"usage", res.NewCount,
		)
		return worker.NewPermanentError(fmt.Errorf("%w: %s", ErrQuotaExhausted, res.Reason))
	}

	h.logger.Info("pack consumed for generation",
		"user_id", p.UserID,
		"generation_id", p.GenerationID,
		"source", res.Source,
		"new_count", res.NewCount,
		"replayed", res.Replayed,
	)
	return nil
}
