// Package billing provides the Stripe integration for extra pack purchases.
package billing

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/sappio-ai/sappio/internal/domain"
)

// Checkout session metadata keys. The webhook reads them back to record the
// purchase against the right user.
const (
	MetadataKind     = "kind"
	MetadataUserID   = "user_id"
	MetadataQuantity = "quantity"

	KindExtraPacks = "extra_packs"
)

// Service defines the billing operations.
type Service interface {
	// CreateExtraPackCheckout creates a one-time payment Checkout session for
	// a pack bundle. Returns the URL to redirect the user to.
	CreateExtraPackCheckout(params ExtraPackCheckoutParams) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// QuantityForPriceID returns the bundle size sold under a price, or 0.
	QuantityForPriceID(priceID string) int
}

// ExtraPackCheckoutParams holds the inputs of an extra pack checkout.
type ExtraPackCheckoutParams struct {
	UserID        uuid.UUID
	Quantity      int
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// PriceConfig maps each bundle size to its Stripe price ID.
type PriceConfig map[int]string

type stripeService struct {
	webhookSecret string
	prices        PriceConfig
	priceToQty    map[string]int
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates API calls and the webhookSecret verifies
// incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToQty := make(map[string]int, len(prices))
	for qty, id := range prices {
		if id != "" {
			priceToQty[id] = qty
		}
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
		priceToQty:    priceToQty,
	}
}

func (s *stripeService) CreateExtraPackCheckout(params ExtraPackCheckoutParams) (string, error) {
	const op = "billing.create_extra_pack_checkout"

	if !domain.IsValidExtraPackQuantity(params.Quantity) {
		return "", domain.Invalid(op, fmt.Sprintf("unsupported extra pack quantity %d", params.Quantity))
	}
	priceID := s.prices[params.Quantity]
	if priceID == "" {
		return "", domain.Invalid(op, fmt.Sprintf("no price configured for %d extra packs", params.Quantity))
	}

	metadata := map[string]string{
		MetadataKind:     KindExtraPacks,
		MetadataUserID:   params.UserID.String(),
		MetadataQuantity: strconv.Itoa(params.Quantity),
	}

	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(params.UserID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
	}
	if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	for k, v := range metadata {
		sp.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(sp)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) QuantityForPriceID(priceID string) int {
	return s.priceToQty[priceID]
}

// ParsePriceConfig converts string bundle sizes ("10", "30", "75") to a PriceConfig.
func ParsePriceConfig(pairs map[string]string) (PriceConfig, error) {
	cfg := make(PriceConfig, len(pairs))
	for k, id := range pairs {
		qty, err := strconv.Atoi(k)
		if err != nil || !domain.IsValidExtraPackQuantity(qty) {
			return nil, fmt.Errorf("invalid extra pack quantity %q", k)
		}
		cfg[qty] = id
	}
	return cfg, nil
}
