package domain

import (
	"math"
	"time"
)

// Benefit windows granted to waitlist signups.
const (
	TrialDuration       = 7 * 24 * time.Hour
	PriceLockMonths     = 12
	WaitlistTrialPlan   = PlanStudentPro
	TrialExpiryFallback = PlanFree
)

// Benefits is the typed benefit record granted once at signup.
// Both parts are immutable after grant; only their expiry matters afterwards.
type Benefits struct {
	FoundingPriceLock *FoundingPriceLock `json:"founding_price_lock,omitempty"`
	Trial             *Trial             `json:"trial,omitempty"`
	GrantedAt         time.Time          `json:"granted_at"`
}

// FoundingPriceLock guarantees a snapshot of catalog prices until ExpiresAt.
type FoundingPriceLock struct {
	Enabled      bool          `json:"enabled"`
	ExpiresAt    time.Time     `json:"expires_at"`
	LockedPrices CatalogPrices `json:"locked_prices"`
}

// IsActive reports whether the lock is still honoured at now.
func (l *FoundingPriceLock) IsActive(now time.Time) bool {
	return l != nil && l.Enabled && now.Before(l.ExpiresAt)
}

// Trial is a time-bound grant of a paid plan.
type Trial struct {
	Plan      PlanTier  `json:"plan"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DaysRemaining returns the whole days left in the trial, rounded up and
// floored at zero.
func (t *Trial) DaysRemaining(now time.Time) int {
	return daysUntil(t.ExpiresAt, now)
}

func daysUntil(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// NewWaitlistBenefits builds the benefit record for a waitlist signup at now.
func NewWaitlistBenefits(now time.Time, prices CatalogPrices) Benefits {
	now = now.UTC()
	return Benefits{
		FoundingPriceLock: &FoundingPriceLock{
			Enabled:      true,
			ExpiresAt:    AddMonths(now, PriceLockMonths),
			LockedPrices: prices,
		},
		Trial: &Trial{
			Plan:      WaitlistTrialPlan,
			StartedAt: now,
			ExpiresAt: now.Add(TrialDuration),
		},
		GrantedAt: now,
	}
}

// HasActivePriceLock reports whether the founding price lock is honored at now.
func (b *Benefits) HasActivePriceLock(now time.Time) bool {
	return b != nil && b.FoundingPriceLock.IsActive(now)
}

// InTrial reports whether the trial is running and still the live plan.
// The live plan is authoritative: a user who moved off the trial plan is
// no longer in trial even before the trial date passes.
func (b *Benefits) InTrial(livePlan PlanTier, now time.Time) bool {
	if b == nil || b.Trial == nil {
		return false
	}
	return now.Before(b.Trial.ExpiresAt) && livePlan == b.Trial.Plan
}

// Pricing is what a user is charged for each paid plan.
type Pricing struct {
	StudentPro    PlanPrice  `json:"student_pro"`
	ProPlus       PlanPrice  `json:"pro_plus"`
	Locked        bool       `json:"locked"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
}
