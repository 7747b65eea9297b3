package repository

import (
	"time"

	"github.com/google/uuid"
)

type ExtraPackPurchase struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Quantity          int32
	AmountPaidCents   int64
	Currency          string
	PaymentRef        string
	PurchasedAt       time.Time
	ExpiresAt         time.Time
	Consumed          int32
	Status            string
	RefundedAt        *time.Time
	RefundAmountCents *int64
	CreatedAt         time.Time
}

type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      []byte
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ErrorMessage *string
	ScheduledAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

type PlanLimit struct {
	Tier                string
	PacksPerMonth       int32
	MaxCardsPerPack     int32
	MaxQuestionsPerQuiz int32
	MaxMindmapNodes     int32
	PriorityProcessing  bool
	UpdatedAt           time.Time
}

type QuotaConsumption struct {
	IdempotencyKey string
	UserID         uuid.UUID
	Source         string
	Quantity       int32
	ResultValue    int32
	CreatedAt      time.Time
}

type UsageCounter struct {
	UserID       uuid.UUID
	PeriodStart  time.Time
	PeriodEnd    time.Time
	PacksCreated int32
	UpdatedAt    time.Time
}

type User struct {
	ID               uuid.UUID
	Email            string
	Plan             string
	PlanExpiresAt    *time.Time
	BillingAnchorDay int16
	FromWaitlist     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserBenefit struct {
	UserID             uuid.UUID
	PriceLockEnabled   bool
	PriceLockExpiresAt *time.Time
	LockedPrices       []byte
	TrialPlan          *string
	TrialStartedAt     *time.Time
	TrialExpiresAt     *time.Time
	GrantedAt          time.Time
}
