package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sappio-ai/sappio/internal/domain"
)

type extraPackFixture struct {
	store *memStore
	clock *testClock
	svc   ExtraPackService
	user  uuid.UUID
}

func newExtraPackFixture(t *testing.T, now time.Time) *extraPackFixture {
	t.Helper()
	store := newMemStore()
	clock := newTestClock(now)
	return &extraPackFixture{
		store: store,
		clock: clock,
		svc:   NewExtraPackService(store, discardLogger(), WithClock(clock.Now)),
		user:  store.addUser("free", 1, now),
	}
}

func (f *extraPackFixture) buy(t *testing.T, quantity int) *domain.ExtraPackPurchase {
	t.Helper()
	p, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseParams{
		UserID:          f.user,
		Quantity:        quantity,
		AmountPaidCents: int64(quantity) * 50,
		Currency:        "usd",
		PaymentRef:      "pi_" + uuid.NewString(),
	})
	require.NoError(t, err)
	return p
}

// =============================================================================
// Purchases
// =============================================================================

func TestExtraPackService_CreatePurchase(t *testing.T) {
	f := newExtraPackFixture(t, time.Date(2025, 8, 31, 9, 0, 0, 0, time.UTC))

	p := f.buy(t, 30)

	assert.Equal(t, 30, p.Quantity)
	assert.Equal(t, 0, p.Consumed)
	assert.Equal(t, domain.PurchaseStatusActive, p.Status)
	// Six calendar months, clamped to the end of February.
	assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), p.ExpiresAt)
}

func TestExtraPackService_CreatePurchase_Validation(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 3, 1))

	tests := []struct {
		name   string
		params CreatePurchaseParams
	}{
		{"unsupported quantity", CreatePurchaseParams{UserID: f.user, Quantity: 20, Currency: "usd", PaymentRef: "pi_1"}},
		{"missing user", CreatePurchaseParams{Quantity: 10, Currency: "usd", PaymentRef: "pi_1"}},
		{"missing payment ref", CreatePurchaseParams{UserID: f.user, Quantity: 10, Currency: "usd"}},
		{"bad currency", CreatePurchaseParams{UserID: f.user, Quantity: 10, Currency: "dollars", PaymentRef: "pi_1"}},
		{"negative amount", CreatePurchaseParams{UserID: f.user, Quantity: 10, AmountPaidCents: -1, Currency: "usd", PaymentRef: "pi_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreatePurchase(context.Background(), tt.params)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
	assert.Zero(t, f.store.callCount("CreateExtraPackPurchase"))
}

func TestExtraPackService_CreatePurchase_DuplicatePaymentRef(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 3, 1))
	params := CreatePurchaseParams{UserID: f.user, Quantity: 10, AmountPaidCents: 499, Currency: "usd", PaymentRef: "pi_dup"}

	_, err := f.svc.CreatePurchase(context.Background(), params)
	require.NoError(t, err)
	_, err = f.svc.CreatePurchase(context.Background(), params)

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	balance, err := f.svc.GetAvailableBalance(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, 10, balance.Total)

	found, err := f.svc.GetPurchaseByPaymentRef(context.Background(), "pi_dup")
	require.NoError(t, err)
	assert.Equal(t, 10, found.Quantity)

	_, err = f.svc.GetPurchaseByPaymentRef(context.Background(), "pi_missing")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestExtraPackService_CreatePurchase_UnknownUser(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 3, 1))

	_, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseParams{
		UserID: uuid.New(), Quantity: 10, Currency: "usd", PaymentRef: "pi_x",
	})

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

// =============================================================================
// Balance and consumption
// =============================================================================

func TestExtraPackService_GetAvailableBalance(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()

	f.buy(t, 10)
	f.clock.Set(utc(2025, 3, 1))
	f.buy(t, 30)

	balance, err := f.svc.GetAvailableBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 40, balance.Total)
	require.Len(t, balance.Purchases, 2)
	assert.Equal(t, 10, balance.Purchases[0].Quantity, "oldest expiry first")
	require.NotNil(t, balance.NearestExpiration)
	assert.Equal(t, utc(2025, 7, 1), *balance.NearestExpiration)

	// Past the first expiry the purchase drops out before any sweep runs.
	f.clock.Set(utc(2025, 7, 2))
	balance, err = f.svc.GetAvailableBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 30, balance.Total)
}

func TestExtraPackService_GetAvailableBalance_ExpirationWarning(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	f.buy(t, 10)

	f.clock.Set(utc(2025, 6, 11))
	balance, err := f.svc.GetAvailableBalance(context.Background(), f.user)
	require.NoError(t, err)

	w := balance.ExpirationWarning(f.clock.Now())
	require.NotNil(t, w)
	assert.Equal(t, 10, w.Packs)
	assert.Equal(t, 20, w.DaysLeft)
}

func TestExtraPackService_ConsumeExtraPacks_FIFOAcrossPurchases(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()

	older := f.buy(t, 10)
	f.clock.Set(utc(2025, 2, 1))
	newer := f.buy(t, 10)

	res, err := f.svc.ConsumeExtraPacks(ctx, f.user, 12, "k1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 8, res.NewBalance)

	assert.EqualValues(t, 10, f.store.purchase(older.ID).Consumed)
	assert.EqualValues(t, 2, f.store.purchase(newer.ID).Consumed)
}

func TestExtraPackService_ConsumeExtraPacks_AllOrNothing(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	p := f.buy(t, 10)

	res, err := f.svc.ConsumeExtraPacks(context.Background(), f.user, 11, "k1")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 10, res.NewBalance)
	assert.Zero(t, f.store.purchase(p.ID).Consumed)
}

func TestExtraPackService_ConsumeExtraPacks_Idempotent(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()
	p := f.buy(t, 10)

	first, err := f.svc.ConsumeExtraPacks(ctx, f.user, 3, "gen:1")
	require.NoError(t, err)
	second, err := f.svc.ConsumeExtraPacks(ctx, f.user, 3, "gen:1")
	require.NoError(t, err)

	assert.Equal(t, first.NewBalance, second.NewBalance)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.EqualValues(t, 3, f.store.purchase(p.ID).Consumed)
}

func TestExtraPackService_ConsumeExtraPacks_KeyOwnedByAnotherUser(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()
	f.buy(t, 10)
	_, err := f.svc.ConsumeExtraPacks(ctx, f.user, 1, "gen:1")
	require.NoError(t, err)

	other := f.store.addUser("free", 1, utc(2025, 1, 1))
	f.user = other
	p := f.buy(t, 10)

	res, err := f.svc.ConsumeExtraPacks(ctx, other, 1, "gen:1")

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.False(t, res.Success)
	assert.Zero(t, f.store.purchase(p.ID).Consumed)
}

func TestExtraPackService_ConsumeExtraPacks_InvalidInput(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()

	_, err := f.svc.ConsumeExtraPacks(ctx, f.user, 0, "k")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = f.svc.ConsumeExtraPacks(ctx, f.user, 1, "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestExtraPackService_ConsumeExtraPacks_StoreError(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	f.store.setFail("ConsumeExtraPacks", errors.New("deadlock detected"))

	res, err := f.svc.ConsumeExtraPacks(context.Background(), f.user, 1, "k")

	assert.False(t, res.Success)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

// =============================================================================
// Refunds
// =============================================================================

func TestExtraPackService_CanRefund_Precedence(t *testing.T) {
	purchased := utc(2025, 1, 1)

	tests := []struct {
		name     string
		consumed int32
		status   string
		at       time.Time
		want     domain.RefundEligibility
	}{
		{"fresh purchase", 0, "active", purchased.Add(24 * time.Hour), domain.RefundEligibility{Allowed: true}},
		{"consumed within window", 1, "active", purchased.Add(24 * time.Hour), domain.RefundEligibility{Reason: domain.RefundReasonConsumed}},
		{"consumed beats window", 1, "active", purchased.Add(30 * 24 * time.Hour), domain.RefundEligibility{Reason: domain.RefundReasonConsumed}},
		{"window expired", 0, "active", purchased.Add(15 * 24 * time.Hour), domain.RefundEligibility{Reason: domain.RefundReasonWindowExpired}},
		{"window beats refunded", 0, "refunded", purchased.Add(15 * 24 * time.Hour), domain.RefundEligibility{Reason: domain.RefundReasonWindowExpired}},
		{"already refunded", 0, "refunded", purchased.Add(24 * time.Hour), domain.RefundEligibility{Reason: domain.RefundReasonAlreadyRefunded}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExtraPackFixture(t, purchased)
			p := f.buy(t, 10)
			row := f.store.purchase(p.ID)
			row.Consumed = tt.consumed
			row.Status = tt.status
			f.store.setPurchase(row)
			f.clock.Set(tt.at)

			got, err := f.svc.CanRefund(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtraPackService_ProcessRefund(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()
	p := f.buy(t, 10)

	f.clock.Advance(48 * time.Hour)
	refunded, err := f.svc.ProcessRefund(ctx, p.ID, 499)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundAmountCents)
	assert.EqualValues(t, 499, *refunded.RefundAmountCents)

	balance, err := f.svc.GetAvailableBalance(ctx, f.user)
	require.NoError(t, err)
	assert.Zero(t, balance.Total)

	_, err = f.svc.ProcessRefund(ctx, p.ID, 499)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, domain.RefundReasonAlreadyRefunded, domain.ErrorMessage(err))
}

func TestExtraPackService_ProcessRefund_ConsumedPurchase(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()
	p := f.buy(t, 10)

	_, err := f.svc.ConsumeExtraPacks(ctx, f.user, 1, "k1")
	require.NoError(t, err)

	_, err = f.svc.ProcessRefund(ctx, p.ID, 499)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, domain.RefundReasonConsumed, domain.ErrorMessage(err))
	assert.Zero(t, f.store.callCount("RefundExtraPackPurchase"))
}

func TestExtraPackService_ProcessRefund_NotFound(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))

	_, err := f.svc.ProcessRefund(context.Background(), uuid.New(), 100)

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

// =============================================================================
// Expiry sweep
// =============================================================================

func TestExtraPackService_ExpirePurchases(t *testing.T) {
	f := newExtraPackFixture(t, utc(2025, 1, 1))
	ctx := context.Background()

	first := f.buy(t, 10)
	f.buy(t, 30)
	f.clock.Set(utc(2025, 4, 1))
	later := f.buy(t, 75)

	f.clock.Set(utc(2025, 7, 2))
	res, err := f.svc.ExpirePurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepResult{Expired: 2, UsersAffected: 1}, res)
	assert.Equal(t, "expired", f.store.purchase(first.ID).Status)
	assert.Equal(t, "active", f.store.purchase(later.ID).Status)

	res, err = f.svc.ExpirePurchases(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
}
