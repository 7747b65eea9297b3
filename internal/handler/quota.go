// Package handler contains HTTP handlers for the quota service.
//
// This file implements the internal JSON API used by the generation pipeline
// and the web app.
//
// Routes handled:
//   - GET  /api/users/{id}/usage                          -> GetUsage
//   - GET  /api/users/{id}/quota                          -> CheckQuota
//   - POST /api/users/{id}/quota/consume                  -> ConsumeQuota
//   - POST /api/users/{id}/generations/{generationId}/complete -> CompleteGeneration
//   - GET  /api/users/{id}/benefits                       -> GetBenefits
//   - POST /api/users/{id}/benefits/waitlist              -> ApplyWaitlistBenefits
//   - GET  /api/pricing                                   -> GetPricing
//   - GET  /api/plans/{tier}/limits                       -> GetPlanLimits
//   - POST /api/plans/cache/clear                         -> ClearPlanCache
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/service"
	"github.com/sappio-ai/sappio/internal/worker"
)

const maxRequestBody = 1 << 20

// QuotaHandler serves usage, quota, benefit and pricing requests.
type QuotaHandler struct {
	usage    service.UsageService
	benefits service.BenefitService
	pricing  service.PricingService
	plans    service.PlanService
	queue    worker.Enqueuer
	logger   *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(
	usage service.UsageService,
	benefits service.BenefitService,
	pricing service.PricingService,
	plans service.PlanService,
	queue worker.Enqueuer,
	logger *slog.Logger,
) *QuotaHandler {
	return &QuotaHandler{
		usage:    usage,
		benefits: benefits,
		pricing:  pricing,
		plans:    plans,
		queue:    queue,
		logger:   logger,
	}
}

// RegisterRoutes registers quota routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux, requireToken func(http.Handler) http.Handler) {
	mux.Handle("GET /api/users/{id}/usage", requireToken(http.HandlerFunc(h.GetUsage)))
	mux.Handle("GET /api/users/{id}/quota", requireToken(http.HandlerFunc(h.CheckQuota)))
	mux.Handle("POST /api/users/{id}/quota/consume", requireToken(http.HandlerFunc(h.ConsumeQuota)))
	mux.Handle("POST /api/users/{id}/generations/{generationId}/complete", requireToken(http.HandlerFunc(h.CompleteGeneration)))
	mux.Handle("GET /api/users/{id}/benefits", requireToken(http.HandlerFunc(h.GetBenefits)))
	mux.Handle("POST /api/users/{id}/benefits/waitlist", requireToken(http.HandlerFunc(h.ApplyWaitlistBenefits)))
	mux.Handle("GET /api/pricing", requireToken(http.HandlerFunc(h.GetPricing)))
	mux.Handle("GET /api/plans/{tier}/limits", requireToken(http.HandlerFunc(h.GetPlanLimits)))
	mux.Handle("POST /api/plans/cache/clear", requireToken(http.HandlerFunc(h.ClearPlanCache)))
}

// =============================================================================
// Usage and quota
// =============================================================================

// GetUsage returns the usage read-model for the user.
func (h *QuotaHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.usage.GetUsageStats(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CheckQuota answers whether the user may create a pack. A denial is a 200
// with allowed false.
func (h *QuotaHandler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	decision, err := h.usage.CanCreatePack(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type consumeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// ConsumeQuota charges one pack synchronously.
func (h *QuotaHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.usage.ConsumePackQuota(r.Context(), userID, req.IdempotencyKey)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, result)
}

type enqueuedResponse struct {
	JobID          uuid.UUID `json:"job_id"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// CompleteGeneration queues the pack charge for a finished generation. The
// charge runs in the worker and retries until storage accepts it.
func (h *QuotaHandler) CompleteGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	generationID := r.PathValue("generationId")

	job, err := worker.EnqueueConsumePackQuota(r.Context(), h.queue, userID, generationID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	payload := worker.ConsumePackQuotaPayload{UserID: userID, GenerationID: generationID}
	writeJSON(w, http.StatusAccepted, enqueuedResponse{
		JobID:          job.ID,
		IdempotencyKey: payload.IdempotencyKey(),
	})
}

// =============================================================================
// Benefits and pricing
// =============================================================================

type benefitsResponse struct {
	Benefits           *domain.Benefits `json:"benefits"`
	InTrial            bool             `json:"in_trial"`
	TrialDaysRemaining *int             `json:"trial_days_remaining"`
	HasPriceLock       bool             `json:"has_price_lock"`
}

// GetBenefits returns the benefit record with its derived state.
func (h *QuotaHandler) GetBenefits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	benefits, err := h.benefits.GetBenefits(ctx, userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	resp := benefitsResponse{Benefits: benefits}
	if benefits != nil {
		if resp.InTrial, err = h.benefits.IsInTrial(ctx, userID); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		if resp.TrialDaysRemaining, err = h.benefits.GetTrialDaysRemaining(ctx, userID); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		if resp.HasPriceLock, err = h.benefits.HasActivePriceLock(ctx, userID); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApplyWaitlistBenefits grants the waitlist trial and price lock.
func (h *QuotaHandler) ApplyWaitlistBenefits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	benefits, err := h.benefits.ApplyWaitlistBenefits(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, benefits)
}

// GetPricing returns the prices shown to a user, or catalog prices when no
// user_id query parameter is given.
func (h *QuotaHandler) GetPricing(w http.ResponseWriter, r *http.Request) {
	var userID *uuid.UUID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Invalid("handler.get_pricing", "user_id must be a UUID"))
			return
		}
		userID = &id
	}

	pricing, err := h.pricing.GetPricingForUser(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing)
}

// =============================================================================
// Plan catalog
// =============================================================================

// GetPlanLimits returns the limits of a tier. Unknown tiers resolve to free.
func (h *QuotaHandler) GetPlanLimits(w http.ResponseWriter, r *http.Request) {
	tier := domain.PlanTier(r.PathValue("tier"))
	writeJSON(w, http.StatusOK, h.plans.GetPlanLimits(r.Context(), tier))
}

// ClearPlanCache drops cached plan limits after the catalog table changes.
func (h *QuotaHandler) ClearPlanCache(w http.ResponseWriter, r *http.Request) {
	h.plans.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Helpers
// =============================================================================

// userID parses the {id} path value, writing a 400 when it is not a UUID.
func (h *QuotaHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return parseIDParam(w, r, h.logger, "id")
}

func parseIDParam(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		ErrorResponse(w, r, logger, domain.Invalid("handler.parse_id", name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("handler.decode_json", "request body is required")
		}
		return domain.Invalid("handler.decode_json", "request body is not valid JSON")
	}
	return nil
}
