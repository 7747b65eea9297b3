package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Extra pack lifecycle constants.
const (
	ExtraPackValidityMonths = 6
	ExtraPackRefundWindow   = 14 * 24 * time.Hour
	ExpirationWarningWindow = 30 * 24 * time.Hour
)

// ExtraPackQuantities are the pack bundle sizes that can be purchased.
var ExtraPackQuantities = []int{10, 30, 75}

// IsValidExtraPackQuantity reports whether q is a purchasable bundle size.
func IsValidExtraPackQuantity(q int) bool {
	return slices.Contains(ExtraPackQuantities, q)
}

// PurchaseStatus is the lifecycle state of an extra pack purchase.
type PurchaseStatus string

const (
	PurchaseStatusActive   PurchaseStatus = "active"
	PurchaseStatusExpired  PurchaseStatus = "expired"
	PurchaseStatusRefunded PurchaseStatus = "refunded"
)

// ExtraPackPurchase is one bonus-credit purchase. Invariant: 0 <= Consumed <= Quantity.
type ExtraPackPurchase struct {
	ID                uuid.UUID      `json:"id"`
	UserID            uuid.UUID      `json:"user_id"`
	Quantity          int            `json:"quantity"`
	AmountPaidCents   int64          `json:"amount_paid_cents"`
	Currency          string         `json:"currency"`
	PaymentRef        string         `json:"payment_ref"`
	PurchasedAt       time.Time      `json:"purchased_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	Consumed          int            `json:"consumed"`
	Status            PurchaseStatus `json:"status"`
	RefundedAt        *time.Time     `json:"refunded_at,omitempty"`
	RefundAmountCents *int64         `json:"refund_amount_cents,omitempty"`
}

// Remaining returns the unconsumed packs of the purchase.
func (p *ExtraPackPurchase) Remaining() int {
	return p.Quantity - p.Consumed
}

// IsUsable reports whether the purchase contributes to the balance at now.
// A purchase past its expiry is excluded even if the sweep has not flipped it yet.
func (p *ExtraPackPurchase) IsUsable(now time.Time) bool {
	return p.Status == PurchaseStatusActive && p.ExpiresAt.After(now) && p.Remaining() > 0
}

// Refund eligibility reasons, checked in this order.
const (
	RefundReasonConsumed        = "Extra packs have already been consumed"
	RefundReasonWindowExpired   = "Refund window of 14 days has expired"
	RefundReasonAlreadyRefunded = "Purchase has already been refunded"
)

// RefundEligibility is the structured answer to "can this purchase be refunded".
type RefundEligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CheckRefund evaluates refund eligibility at now. Consumption is checked
// first so a consumed purchase reports consumption even when past the window.
func (p *ExtraPackPurchase) CheckRefund(now time.Time) RefundEligibility {
	switch {
	case p.Consumed > 0:
		return RefundEligibility{Reason: RefundReasonConsumed}
	case now.Sub(p.PurchasedAt) > ExtraPackRefundWindow:
		return RefundEligibility{Reason: RefundReasonWindowExpired}
	case p.Status == PurchaseStatusRefunded:
		return RefundEligibility{Reason: RefundReasonAlreadyRefunded}
	}
	return RefundEligibility{Allowed: true}
}

// ExtraPackBalance aggregates the usable purchases of a user.
type ExtraPackBalance struct {
	Total             int                 `json:"total"`
	Purchases         []ExtraPackPurchase `json:"purchases"`
	NearestExpiration *time.Time          `json:"nearest_expiration,omitempty"`
}

// NewExtraPackBalance builds the balance from purchases, ignoring anything
// not usable at now. Purchases keep FIFO order: oldest expiry first.
func NewExtraPackBalance(purchases []ExtraPackPurchase, now time.Time) ExtraPackBalance {
	b := ExtraPackBalance{Purchases: make([]ExtraPackPurchase, 0, len(purchases))}
	for _, p := range purchases {
		if !p.IsUsable(now) {
			continue
		}
		b.Total += p.Remaining()
		b.Purchases = append(b.Purchases, p)
	}
	SortFIFO(b.Purchases)
	if len(b.Purchases) > 0 {
		exp := b.Purchases[0].ExpiresAt
		b.NearestExpiration = &exp
	}
	return b
}

// SortFIFO orders purchases by expiry, then purchase time, then ID.
func SortFIFO(purchases []ExtraPackPurchase) {
	slices.SortStableFunc(purchases, func(a, b ExtraPackPurchase) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		if c := a.PurchasedAt.Compare(b.PurchasedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}

// ExpirationWarning flags bonus packs that will lapse soon.
type ExpirationWarning struct {
	Packs     int       `json:"packs"`
	ExpiresAt time.Time `json:"expires_at"`
	DaysLeft  int       `json:"days_left"`
}

// ExpirationWarning returns a warning for packs expiring within 30 days of now,
// or nil when nothing is about to lapse.
func (b ExtraPackBalance) ExpirationWarning(now time.Time) *ExpirationWarning {
	var w *ExpirationWarning
	for _, p := range b.Purchases {
		if p.ExpiresAt.Sub(now) > ExpirationWarningWindow {
			continue
		}
		if w == nil {
			w = &ExpirationWarning{ExpiresAt: p.ExpiresAt, DaysLeft: daysUntil(p.ExpiresAt, now)}
		}
		w.Packs += p.Remaining()
	}
	return w
}

// ExtraPackConsumption is the outcome of charging packs to the bonus balance.
type ExtraPackConsumption struct {
	Success    bool `json:"success"`
	NewBalance int  `json:"new_balance"`
	Replayed   bool `json:"replayed,omitempty"`
}

// SweepResult reports what an expiry sweep changed.
type SweepResult struct {
	Expired       int64 `json:"expired"`
	UsersAffected int64 `json:"users_affected"`
}
