// Package domain contains core business types and interfaces.
//
// This file defines the User domain type as seen by the entitlement core.
// These types are separate from the repository models to decouple business
// logic from the database layer.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the subset of a user account the entitlement core reads and writes.
//
// Plan is authoritative for entitlements. Benefits holds the advisory record of
// what was granted at signup; it never overrides Plan.
type User struct {
	ID               uuid.UUID
	Email            string
	Plan             PlanTier
	PlanExpiresAt    *time.Time
	BillingAnchorDay int
	FromWaitlist     bool
	Benefits         *Benefits
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AnchorDay returns the billing anchor day, falling back to the signup day.
func (u *User) AnchorDay() int {
	if u.BillingAnchorDay >= 1 && u.BillingAnchorDay <= 31 {
		return u.BillingAnchorDay
	}
	if !u.CreatedAt.IsZero() {
		return u.CreatedAt.UTC().Day()
	}
	return 1
}

// EffectivePlan returns the user's plan, treating unknown values as free.
func (u *User) EffectivePlan() PlanTier {
	if u.Plan.IsValid() {
		return u.Plan
	}
	return PlanFree
}

// PlanExpired reports whether the user's plan carries an expiry that has passed.
func (u *User) PlanExpired(now time.Time) bool {
	return u.PlanExpiresAt != nil && !now.Before(*u.PlanExpiresAt)
}

// PlanAt returns the plan in force at now. A plan whose expiry has passed
// counts as the fallback plan even before the expiry sweep rewrites it.
func (u *User) PlanAt(now time.Time) PlanTier {
	if u.PlanExpired(now) {
		return TrialExpiryFallback
	}
	return u.EffectivePlan()
}
