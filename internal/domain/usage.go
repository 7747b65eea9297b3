package domain

import "github.com/google/uuid"

// NearLimitPercent is the usage percentage at which a user is near the limit.
const NearLimitPercent = 80

// ConsumptionSource names the pool a pack is charged against.
type ConsumptionSource string

const (
	SourceMonthly ConsumptionSource = "monthly"
	// SourceGrace is a policy label: the unit still lands in the monthly counter.
	SourceGrace ConsumptionSource = "grace"
	SourceExtra ConsumptionSource = "extra"
)

// CountsTowardMonthly reports whether consumption from s increments the monthly counter.
func (s ConsumptionSource) CountsTowardMonthly() bool {
	return s == SourceMonthly || s == SourceGrace
}

// DenyReasonQuotaExceeded is returned when no pool can serve a pack.
const DenyReasonQuotaExceeded = "quota_exceeded"

// UsageStats is the derived read-model of a user's monthly usage and bonus balance.
type UsageStats struct {
	Plan                PlanTier           `json:"plan"`
	Period              BillingPeriod      `json:"period"`
	CurrentUsage        int                `json:"current_usage"`
	Limit               int                `json:"limit"`
	Remaining           int                `json:"remaining"`
	PercentUsed         float64            `json:"percent_used"`
	IsAtLimit           bool               `json:"is_at_limit"`
	IsNearLimit         bool               `json:"is_near_limit"`
	HasGraceWindow      bool               `json:"has_grace_window"`
	ExtraPacksAvailable int                `json:"extra_packs_available"`
	TotalAvailable      int                `json:"total_available"`
	ExpirationWarning   *ExpirationWarning `json:"expiration_warning,omitempty"`
}

// NewUsageStats combines the monthly counter, plan limit and bonus balance.
//
// PercentUsed may exceed 100 and Remaining may be negative; only
// TotalAvailable is clamped.
func NewUsageStats(plan PlanTier, period BillingPeriod, usage, limit, extraBalance int, warning *ExpirationWarning) UsageStats {
	var percent float64
	switch {
	case limit > 0:
		percent = float64(usage) / float64(limit) * 100
	case usage > 0:
		percent = 100
	}

	remaining := limit - usage
	return UsageStats{
		Plan:                plan,
		Period:              period,
		CurrentUsage:        usage,
		Limit:               limit,
		Remaining:           remaining,
		PercentUsed:         percent,
		IsAtLimit:           usage >= limit,
		IsNearLimit:         percent >= NearLimitPercent,
		HasGraceWindow:      usage == limit,
		ExtraPacksAvailable: extraBalance,
		TotalAvailable:      max(0, remaining) + extraBalance,
		ExpirationWarning:   warning,
	}
}

// DecideSource applies the priority order monthly, then grace, then extra.
// The second return value is false when nothing can serve the pack.
func DecideSource(usage, limit, extraBalance int) (ConsumptionSource, bool) {
	switch {
	case usage < limit:
		return SourceMonthly, true
	case usage == limit:
		return SourceGrace, true
	case extraBalance > 0:
		return SourceExtra, true
	}
	return "", false
}

// QuotaDecision is the read-only answer to "can this user create a pack".
type QuotaDecision struct {
	Allowed           bool              `json:"allowed"`
	Reason            string            `json:"reason,omitempty"`
	Usage             UsageStats        `json:"usage"`
	ConsumptionSource ConsumptionSource `json:"consumption_source,omitempty"`
}

// ConsumeResult reports the outcome of charging one pack.
//
// NewCount is the post-consumption value of the pool that was charged: the
// monthly counter for monthly and grace, the remaining bonus balance for extra.
type ConsumeResult struct {
	Success  bool              `json:"success"`
	NewCount int               `json:"new_count"`
	Source   ConsumptionSource `json:"source,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Replayed bool              `json:"replayed,omitempty"`
}

// QuotaConsumption is the recorded application of an idempotency key.
type QuotaConsumption struct {
	IdempotencyKey string
	UserID         uuid.UUID
	Source         ConsumptionSource
	Quantity       int
	ResultValue    int
}
