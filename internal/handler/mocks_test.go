package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/repository"
	"github.com/sappio-ai/sappio/internal/service"
)

type mockExtraPacks struct {
	mock.Mock
}

func (m *mockExtraPacks) GetAvailableBalance(ctx context.Context, userID uuid.UUID) (domain.ExtraPackBalance, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.ExtraPackBalance), args.Error(1)
}

func (m *mockExtraPacks) CreatePurchase(ctx context.Context, params service.CreatePurchaseParams) (*domain.ExtraPackPurchase, error) {
	args := m.Called(ctx, params)
	p, _ := args.Get(0).(*domain.ExtraPackPurchase)
	return p, args.Error(1)
}

func (m *mockExtraPacks) ConsumeExtraPacks(ctx context.Context, userID uuid.UUID, count int, key string) (domain.ExtraPackConsumption, error) {
	args := m.Called(ctx, userID, count, key)
	return args.Get(0).(domain.ExtraPackConsumption), args.Error(1)
}

func (m *mockExtraPacks) GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*domain.ExtraPackPurchase, error) {
	args := m.Called(ctx, paymentRef)
	p, _ := args.Get(0).(*domain.ExtraPackPurchase)
	return p, args.Error(1)
}

func (m *mockExtraPacks) CanRefund(ctx context.Context, purchaseID uuid.UUID) (domain.RefundEligibility, error) {
	args := m.Called(ctx, purchaseID)
	return args.Get(0).(domain.RefundEligibility), args.Error(1)
}

func (m *mockExtraPacks) ProcessRefund(ctx context.Context, purchaseID uuid.UUID, amountCents int64) (*domain.ExtraPackPurchase, error) {
	args := m.Called(ctx, purchaseID, amountCents)
	p, _ := args.Get(0).(*domain.ExtraPackPurchase)
	return p, args.Error(1)
}

func (m *mockExtraPacks) ExpirePurchases(ctx context.Context) (domain.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.SweepResult), args.Error(1)
}

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) CanCreatePack(ctx context.Context, userID uuid.UUID) (domain.QuotaDecision, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.QuotaDecision), args.Error(1)
}

func (m *mockUsage) ConsumePackQuota(ctx context.Context, userID uuid.UUID, key string) (domain.ConsumeResult, error) {
	args := m.Called(ctx, userID, key)
	return args.Get(0).(domain.ConsumeResult), args.Error(1)
}

func (m *mockUsage) GetUsageStats(ctx context.Context, userID uuid.UUID) (domain.UsageStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.UsageStats), args.Error(1)
}

type mockBenefits struct {
	mock.Mock
}

func (m *mockBenefits) ApplyWaitlistBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*domain.Benefits)
	return b, args.Error(1)
}

func (m *mockBenefits) GetBenefits(ctx context.Context, userID uuid.UUID) (*domain.Benefits, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*domain.Benefits)
	return b, args.Error(1)
}

func (m *mockBenefits) HasActivePriceLock(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBenefits) IsInTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBenefits) ExpireTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBenefits) GetTrialDaysRemaining(ctx context.Context, userID uuid.UUID) (*int, error) {
	args := m.Called(ctx, userID)
	d, _ := args.Get(0).(*int)
	return d, args.Error(1)
}

func (m *mockBenefits) ExpireTrials(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockPricing struct {
	mock.Mock
}

func (m *mockPricing) GetPricingForUser(ctx context.Context, userID *uuid.UUID) (domain.Pricing, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.Pricing), args.Error(1)
}

type mockPlans struct {
	mock.Mock
}

func (m *mockPlans) GetPlanLimits(ctx context.Context, tier domain.PlanTier) domain.PlanLimits {
	args := m.Called(ctx, tier)
	return args.Get(0).(domain.PlanLimits)
}

func (m *mockPlans) ClearCache(ctx context.Context) {
	m.Called(ctx)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(repository.Job), args.Error(1)
}
