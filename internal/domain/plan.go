// Package domain contains core business types and interfaces.
//
// This file defines plan tiers and the per-tier limits that drive the
// monthly pack quota and content caps.
package domain

// PlanTier identifies a subscription level.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStudentPro PlanTier = "student_pro"
	PlanProPlus    PlanTier = "pro_plus"
)

// PlanTiers lists every tier in ascending product order.
var PlanTiers = []PlanTier{PlanFree, PlanStudentPro, PlanProPlus}

// IsValid reports whether the tier is one of the known tiers.
func (t PlanTier) IsValid() bool {
	switch t {
	case PlanFree, PlanStudentPro, PlanProPlus:
		return true
	}
	return false
}

// IsPaid reports whether the tier is a paid plan.
func (t PlanTier) IsPaid() bool {
	return t == PlanStudentPro || t == PlanProPlus
}

// PlanLimits defines the monthly pack quota and content caps for a tier.
// Limits are immutable reference data.
type PlanLimits struct {
	Tier                PlanTier `json:"tier"`
	PacksPerMonth       int      `json:"packs_per_month"`
	MaxCardsPerPack     int      `json:"max_cards_per_pack"`
	MaxQuestionsPerQuiz int      `json:"max_questions_per_quiz"`
	MaxMindmapNodes     int      `json:"max_mindmap_nodes"`
	PriorityProcessing  bool     `json:"priority_processing"`
}

// DefaultPlanLimits are the hardcoded limits used when the plan_limits table
// cannot be read. They must stay non-decreasing from free to pro_plus.
var DefaultPlanLimits = map[PlanTier]PlanLimits{
	PlanFree: {
		Tier:                PlanFree,
		PacksPerMonth:       3,
		MaxCardsPerPack:     25,
		MaxQuestionsPerQuiz: 10,
		MaxMindmapNodes:     30,
	},
	PlanStudentPro: {
		Tier:                PlanStudentPro,
		PacksPerMonth:       30,
		MaxCardsPerPack:     100,
		MaxQuestionsPerQuiz: 50,
		MaxMindmapNodes:     100,
	},
	PlanProPlus: {
		Tier:                PlanProPlus,
		PacksPerMonth:       100,
		MaxCardsPerPack:     200,
		MaxQuestionsPerQuiz: 100,
		MaxMindmapNodes:     250,
		PriorityProcessing:  true,
	},
}

// GetDefaultPlanLimits returns the fallback limits for a tier, defaulting to
// the free tier for unknown tiers.
func GetDefaultPlanLimits(tier PlanTier) PlanLimits {
	if limits, ok := DefaultPlanLimits[tier]; ok {
		return limits
	}
	return DefaultPlanLimits[PlanFree]
}

// PlanPrice is the display price of a paid plan, in minor currency units.
type PlanPrice struct {
	MonthlyCents int64  `json:"monthly_cents"`
	AnnualCents  int64  `json:"annual_cents"`
	Currency     string `json:"currency"`
}

// CatalogPrices holds the live price of every paid plan.
type CatalogPrices struct {
	StudentPro PlanPrice `json:"student_pro"`
	ProPlus    PlanPrice `json:"pro_plus"`
}

// DefaultCatalogPrices are the current list prices.
var DefaultCatalogPrices = CatalogPrices{
	StudentPro: PlanPrice{MonthlyCents: 799, AnnualCents: 7188, Currency: "usd"},
	ProPlus:    PlanPrice{MonthlyCents: 1499, AnnualCents: 14388, Currency: "usd"},
}
