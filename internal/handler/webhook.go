// Package handler contains HTTP handlers for the quota service.
//
// This file implements the Stripe webhook handler for extra pack payments.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/sappio-ai/sappio/internal/billing"
	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/service"
)

// MetadataPurchaseID may be set on a charge to point a refund at a purchase
// directly. Without it the purchase is found by payment intent.
const MetadataPurchaseID = "purchase_id"

const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	extras  service.ExtraPackService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, extras service.ExtraPackService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		extras:  extras,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Events that can never succeed are acknowledged with 200 so Stripe stops
// delivering them. Storage failures answer 500 and Stripe retries; both
// handled events are idempotent.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Processing must finish even if Stripe hangs up early.
	ctx := context.WithoutCancel(r.Context())

	var result string
	switch event.Type {
	case "checkout.session.completed":
		result, err = h.handleCheckoutCompleted(ctx, event)
	case "charge.refunded":
		result, err = h.handleChargeRefunded(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		result = "ignored"
	}

	if err != nil {
		metrics.WebhookHandled(string(event.Type), "failed")
		h.logger.Error("webhook processing failed", "type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	metrics.WebhookHandled(string(event.Type), result)
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted records the purchase of a paid extra pack session.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return "ignored", nil
	}

	if session.Metadata[billing.MetadataKind] != billing.KindExtraPacks {
		h.logger.Debug("checkout session is not an extra pack purchase", "session_id", session.ID)
		return "ignored", nil
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("extra pack checkout not paid yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return "ignored", nil
	}

	userID, err := uuid.Parse(session.Metadata[billing.MetadataUserID])
	if err != nil {
		h.logger.Error("checkout session has invalid user id", "session_id", session.ID, "error", err)
		return "ignored", nil
	}
	quantity, err := strconv.Atoi(session.Metadata[billing.MetadataQuantity])
	if err != nil {
		h.logger.Error("checkout session has invalid quantity", "session_id", session.ID, "error", err)
		return "ignored", nil
	}

	paymentRef := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentRef = session.PaymentIntent.ID
	}

	purchase, err := h.extras.CreatePurchase(ctx, service.CreatePurchaseParams{
		UserID:          userID,
		Quantity:        quantity,
		AmountPaidCents: session.AmountTotal,
		Currency:        string(session.Currency),
		PaymentRef:      paymentRef,
	})
	switch domain.ErrorCode(err) {
	case "":
		h.logger.Info("extra pack purchase recorded",
			"user_id", userID,
			"purchase_id", purchase.ID,
			"quantity", quantity,
			"payment_ref", paymentRef,
		)
		return "processed", nil
	case domain.ECONFLICT:
		h.logger.Info("extra pack purchase already recorded", "payment_ref", paymentRef)
		return "duplicate", nil
	case domain.EINVALID, domain.ENOTFOUND:
		h.logger.Error("extra pack purchase rejected",
			"user_id", userID,
			"payment_ref", paymentRef,
			"error", err,
		)
		return "ignored", nil
	default:
		return "", err
	}
}

// handleChargeRefunded marks the purchase behind a refunded charge.
func (h *WebhookHandler) handleChargeRefunded(ctx context.Context, event stripe.Event) (string, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		h.logger.Error("failed to parse refunded charge", "error", err)
		return "ignored", nil
	}

	purchaseID, found, err := h.resolvePurchase(ctx, &charge)
	if err != nil {
		return "", err
	}
	if !found {
		h.logger.Debug("refunded charge has no extra pack purchase", "charge_id", charge.ID)
		return "ignored", nil
	}

	_, err = h.extras.ProcessRefund(ctx, purchaseID, charge.AmountRefunded)
	switch domain.ErrorCode(err) {
	case "":
		h.logger.Info("extra pack purchase refunded",
			"purchase_id", purchaseID,
			"charge_id", charge.ID,
			"amount_cents", charge.AmountRefunded,
		)
		return "processed", nil
	case domain.ECONFLICT:
		// Money already moved at Stripe, the ledger disagrees.
		h.logger.Warn("refund issued for ineligible purchase",
			"purchase_id", purchaseID,
			"charge_id", charge.ID,
			"reason", domain.ErrorMessage(err),
		)
		return "duplicate", nil
	case domain.EINVALID, domain.ENOTFOUND:
		h.logger.Error("refund could not be applied", "purchase_id", purchaseID, "error", err)
		return "ignored", nil
	default:
		return "", err
	}
}

func (h *WebhookHandler) resolvePurchase(ctx context.Context, charge *stripe.Charge) (uuid.UUID, bool, error) {
	if raw := charge.Metadata[MetadataPurchaseID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			return id, true, nil
		}
		h.logger.Warn("charge has invalid purchase id metadata", "charge_id", charge.ID, "error", err)
	}

	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return uuid.Nil, false, nil
	}

	purchase, err := h.extras.GetPurchaseByPaymentRef(ctx, charge.PaymentIntent.ID)
	switch domain.ErrorCode(err) {
	case "":
		return purchase.ID, true, nil
	case domain.ENOTFOUND:
		return uuid.Nil, false, nil
	default:
		return uuid.Nil, false, err
	}
}
