// Package handler contains HTTP handlers for the quota service.
//
// This file implements extra pack handlers backed by Stripe.
//
// Routes handled:
//   - GET  /api/users/{id}/extra-packs               -> GetBalance
//   - POST /api/users/{id}/extra-packs/checkout      -> CreateCheckout
//   - GET  /api/extra-packs/{id}/refund-eligibility  -> GetRefundEligibility
package handler

import (
	"log/slog"
	"net/http"

	"github.com/sappio-ai/sappio/internal/billing"
	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/service"
)

// ExtraPackHandler handles extra pack balance and checkout requests.
type ExtraPackHandler struct {
	billing billing.Service
	extras  service.ExtraPackService
	baseURL string
	logger  *slog.Logger
}

// NewExtraPackHandler creates a new ExtraPackHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewExtraPackHandler(billingService billing.Service, extras service.ExtraPackService, baseURL string, logger *slog.Logger) *ExtraPackHandler {
	return &ExtraPackHandler{
		billing: billingService,
		extras:  extras,
		baseURL: baseURL,
		logger:  logger,
	}
}

// RegisterRoutes registers extra pack routes on the provided mux.
func (h *ExtraPackHandler) RegisterRoutes(mux *http.ServeMux, requireToken func(http.Handler) http.Handler) {
	mux.Handle("GET /api/users/{id}/extra-packs", requireToken(http.HandlerFunc(h.GetBalance)))
	mux.Handle("POST /api/users/{id}/extra-packs/checkout", requireToken(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("GET /api/extra-packs/{id}/refund-eligibility", requireToken(http.HandlerFunc(h.GetRefundEligibility)))
}

// GetBalance returns the usable extra packs of the user, oldest expiry first.
func (h *ExtraPackHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, h.logger, "id")
	if !ok {
		return
	}

	balance, err := h.extras.GetAvailableBalance(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type checkoutRequest struct {
	Quantity      int    `json:"quantity"`
	CustomerEmail string `json:"customer_email"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckout starts a Stripe Checkout session for a pack bundle. The
// purchase itself is recorded by the webhook once payment completes.
func (h *ExtraPackHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.create_extra_pack_checkout"

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EPAYMENT, op, "Billing is not configured"))
		return
	}

	userID, ok := parseIDParam(w, r, h.logger, "id")
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.SuccessURL == "" {
		req.SuccessURL = h.baseURL + "/billing/extra-packs/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if req.CancelURL == "" {
		req.CancelURL = h.baseURL + "/billing/extra-packs"
	}

	url, err := h.billing.CreateExtraPackCheckout(billing.ExtraPackCheckoutParams{
		UserID:        userID,
		Quantity:      req.Quantity,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("extra pack checkout created", "user_id", userID, "quantity", req.Quantity)
	writeJSON(w, http.StatusCreated, checkoutResponse{URL: url})
}

// GetRefundEligibility reports whether a purchase may still be refunded.
func (h *ExtraPackHandler) GetRefundEligibility(w http.ResponseWriter, r *http.Request) {
	purchaseID, ok := parseIDParam(w, r, h.logger, "id")
	if !ok {
		return
	}

	eligibility, err := h.extras.CanRefund(r.Context(), purchaseID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}
