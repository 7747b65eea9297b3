package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sappio-ai/sappio/internal/repository"
)

// =============================================================================
// In-memory store
// =============================================================================

// memStore mirrors the row-level semantics of the SQL routines: a shared
// idempotency ledger, the grace ceiling on increments, all-or-nothing FIFO
// consumption and guarded refunds. Every method holds the lock for its whole
// body, like a single statement would.
type memStore struct {
	mu sync.Mutex

	users      map[uuid.UUID]repository.User
	benefits   map[uuid.UUID]repository.UserBenefit
	planLimits map[string]repository.PlanLimit
	counters   map[counterKey]repository.UsageCounter
	ledger     map[string]repository.QuotaConsumption
	purchases  map[uuid.UUID]repository.ExtraPackPurchase

	// fail makes the named method return the error instead of running.
	fail map[string]error
	// calls counts invocations per method.
	calls map[string]int
}

type counterKey struct {
	userID      uuid.UUID
	periodStart time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uuid.UUID]repository.User),
		benefits:   make(map[uuid.UUID]repository.UserBenefit),
		planLimits: make(map[string]repository.PlanLimit),
		counters:   make(map[counterKey]repository.UsageCounter),
		ledger:     make(map[string]repository.QuotaConsumption),
		purchases:  make(map[uuid.UUID]repository.ExtraPackPurchase),
		fail:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (m *memStore) enter(method string) error {
	m.calls[method]++
	return m.fail[method]
}

func (m *memStore) setFail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = err
}

func (m *memStore) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *memStore) addUser(plan string, anchorDay int, createdAt time.Time) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = repository.User{
		ID:               id,
		Email:            id.String() + "@example.com",
		Plan:             plan,
		BillingAnchorDay: int16(anchorDay),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	return id
}

func (m *memStore) setPlan(userID uuid.UUID, plan string, expiresAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.Plan = plan
	u.PlanExpiresAt = expiresAt
	m.users[userID] = u
}

func (m *memStore) user(userID uuid.UUID) repository.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}

func (m *memStore) setCounter(userID uuid.UUID, periodStart time.Time, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counterKey{userID, periodStart}] = repository.UsageCounter{
		UserID:       userID,
		PeriodStart:  periodStart,
		PacksCreated: int32(value),
	}
}

func (m *memStore) counter(userID uuid.UUID, periodStart time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.counters[counterKey{userID, periodStart}].PacksCreated)
}

func (m *memStore) purchase(id uuid.UUID) repository.ExtraPackPurchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchases[id]
}

func (m *memStore) setPurchase(p repository.ExtraPackPurchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = p
}

// --- plan limits -------------------------------------------------------------

func (m *memStore) GetPlanLimit(ctx context.Context, tier string) (repository.PlanLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPlanLimit"); err != nil {
		return repository.PlanLimit{}, err
	}
	if err := ctx.Err(); err != nil {
		return repository.PlanLimit{}, err
	}
	row, ok := m.planLimits[tier]
	if !ok {
		return repository.PlanLimit{}, pgx.ErrNoRows
	}
	return row, nil
}

// --- users and benefits ------------------------------------------------------

func (m *memStore) GetUser(ctx context.Context, id uuid.UUID) (repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUser"); err != nil {
		return repository.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return repository.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *memStore) GetUserBenefits(ctx context.Context, userID uuid.UUID) (repository.UserBenefit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserBenefits"); err != nil {
		return repository.UserBenefit{}, err
	}
	b, ok := m.benefits[userID]
	if !ok {
		return repository.UserBenefit{}, pgx.ErrNoRows
	}
	return b, nil
}

func (m *memStore) ApplyWaitlistBenefits(ctx context.Context, arg repository.ApplyWaitlistBenefitsParams) (repository.UserBenefit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ApplyWaitlistBenefits"); err != nil {
		return repository.UserBenefit{}, err
	}
	u, ok := m.users[arg.UserID]
	if !ok {
		return repository.UserBenefit{}, pgx.ErrNoRows
	}
	if _, exists := m.benefits[arg.UserID]; exists {
		return repository.UserBenefit{}, pgx.ErrNoRows
	}
	if !json.Valid(arg.LockedPrices) {
		return repository.UserBenefit{}, &pgconn.PgError{Code: "22P02"}
	}

	lockExpires := arg.PriceLockExpiresAt
	trialPlan := arg.TrialPlan
	started := arg.GrantedAt
	trialExpires := arg.TrialExpiresAt
	b := repository.UserBenefit{
		UserID:             arg.UserID,
		PriceLockEnabled:   true,
		PriceLockExpiresAt: &lockExpires,
		LockedPrices:       arg.LockedPrices,
		TrialPlan:          &trialPlan,
		TrialStartedAt:     &started,
		TrialExpiresAt:     &trialExpires,
		GrantedAt:          arg.GrantedAt,
	}
	m.benefits[arg.UserID] = b

	u.Plan = trialPlan
	u.PlanExpiresAt = &trialExpires
	u.FromWaitlist = true
	u.UpdatedAt = arg.GrantedAt
	m.users[arg.UserID] = u
	return b, nil
}

func (m *memStore) ExpireTrial(ctx context.Context, arg repository.ExpireTrialParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExpireTrial"); err != nil {
		return 0, err
	}
	u, ok := m.users[arg.UserID]
	if !ok || u.PlanExpiresAt == nil || u.PlanExpiresAt.After(arg.Now) {
		return 0, nil
	}
	u.Plan = arg.FallbackPlan
	u.PlanExpiresAt = nil
	u.UpdatedAt = arg.Now
	m.users[arg.UserID] = u
	return 1, nil
}

func (m *memStore) ListUsersWithLapsedPlan(ctx context.Context, arg repository.ListUsersWithLapsedPlanParams) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListUsersWithLapsedPlan"); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for id, u := range m.users {
		if len(ids) == int(arg.Limit) {
			break
		}
		if u.PlanExpiresAt != nil && !u.PlanExpiresAt.After(arg.Now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- usage -------------------------------------------------------------------

func (m *memStore) GetUsageCounter(ctx context.Context, arg repository.GetUsageCounterParams) (repository.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUsageCounter"); err != nil {
		return repository.UsageCounter{}, err
	}
	c, ok := m.counters[counterKey{arg.UserID, arg.PeriodStart}]
	if !ok {
		return repository.UsageCounter{}, pgx.ErrNoRows
	}
	return c, nil
}

func (m *memStore) IncrementPackUsage(ctx context.Context, arg repository.IncrementPackUsageParams) (repository.IncrementPackUsageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("IncrementPackUsage"); err != nil {
		return repository.IncrementPackUsageRow{}, err
	}
	if rec, ok := m.ledger[arg.IdempotencyKey]; ok {
		if rec.UserID != arg.UserID {
			return repository.IncrementPackUsageRow{}, &pgconn.PgError{Code: "23505"}
		}
		return repository.IncrementPackUsageRow{NewCount: rec.ResultValue, Accepted: true}, nil
	}

	key := counterKey{arg.UserID, arg.PeriodStart}
	c := m.counters[key]
	if c.PacksCreated >= arg.Ceiling {
		return repository.IncrementPackUsageRow{NewCount: c.PacksCreated}, nil
	}
	c.UserID = arg.UserID
	c.PeriodStart = arg.PeriodStart
	c.PeriodEnd = arg.PeriodEnd
	c.PacksCreated++
	m.counters[key] = c

	m.ledger[arg.IdempotencyKey] = repository.QuotaConsumption{
		IdempotencyKey: arg.IdempotencyKey,
		UserID:         arg.UserID,
		Source:         arg.Source,
		Quantity:       1,
		ResultValue:    c.PacksCreated,
	}
	return repository.IncrementPackUsageRow{NewCount: c.PacksCreated, Applied: true, Accepted: true}, nil
}

func (m *memStore) GetQuotaConsumption(ctx context.Context, idempotencyKey string) (repository.QuotaConsumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetQuotaConsumption"); err != nil {
		return repository.QuotaConsumption{}, err
	}
	rec, ok := m.ledger[idempotencyKey]
	if !ok {
		return repository.QuotaConsumption{}, pgx.ErrNoRows
	}
	return rec, nil
}

// --- extra packs -------------------------------------------------------------

func (m *memStore) CreateExtraPackPurchase(ctx context.Context, arg repository.CreateExtraPackPurchaseParams) (repository.ExtraPackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateExtraPackPurchase"); err != nil {
		return repository.ExtraPackPurchase{}, err
	}
	if _, ok := m.users[arg.UserID]; !ok {
		return repository.ExtraPackPurchase{}, &pgconn.PgError{Code: "23503"}
	}
	for _, p := range m.purchases {
		if p.PaymentRef == arg.PaymentRef {
			return repository.ExtraPackPurchase{}, &pgconn.PgError{Code: "23505"}
		}
	}
	p := repository.ExtraPackPurchase{
		ID:              uuid.New(),
		UserID:          arg.UserID,
		Quantity:        arg.Quantity,
		AmountPaidCents: arg.AmountPaidCents,
		Currency:        arg.Currency,
		PaymentRef:      arg.PaymentRef,
		PurchasedAt:     arg.PurchasedAt,
		ExpiresAt:       arg.ExpiresAt,
		Status:          "active",
		CreatedAt:       arg.PurchasedAt,
	}
	m.purchases[p.ID] = p
	return p, nil
}

func (m *memStore) GetExtraPackPurchase(ctx context.Context, id uuid.UUID) (repository.ExtraPackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetExtraPackPurchase"); err != nil {
		return repository.ExtraPackPurchase{}, err
	}
	p, ok := m.purchases[id]
	if !ok {
		return repository.ExtraPackPurchase{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *memStore) GetExtraPackPurchaseByPaymentRef(ctx context.Context, paymentRef string) (repository.ExtraPackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetExtraPackPurchaseByPaymentRef"); err != nil {
		return repository.ExtraPackPurchase{}, err
	}
	for _, p := range m.purchases {
		if p.PaymentRef == paymentRef {
			return p, nil
		}
	}
	return repository.ExtraPackPurchase{}, pgx.ErrNoRows
}

func (m *memStore) usable(userID uuid.UUID, now time.Time) []repository.ExtraPackPurchase {
	var out []repository.ExtraPackPurchase
	for _, p := range m.purchases {
		if p.UserID == userID && p.Status == "active" && p.ExpiresAt.After(now) && p.Consumed < p.Quantity {
			out = append(out, p)
		}
	}
	sortPurchasesFIFO(out)
	return out
}

func sortPurchasesFIFO(ps []repository.ExtraPackPurchase) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && fifoLess(ps[j], ps[j-1]); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func fifoLess(a, b repository.ExtraPackPurchase) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	if !a.PurchasedAt.Equal(b.PurchasedAt) {
		return a.PurchasedAt.Before(b.PurchasedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (m *memStore) ListUsableExtraPackPurchases(ctx context.Context, arg repository.ListUsableExtraPackPurchasesParams) ([]repository.ExtraPackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListUsableExtraPackPurchases"); err != nil {
		return nil, err
	}
	return m.usable(arg.UserID, arg.Now), nil
}

func (m *memStore) ConsumeExtraPacks(ctx context.Context, arg repository.ConsumeExtraPacksParams) (repository.ConsumeExtraPacksRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ConsumeExtraPacks"); err != nil {
		return repository.ConsumeExtraPacksRow{}, err
	}
	if rec, ok := m.ledger[arg.IdempotencyKey]; ok {
		if rec.UserID != arg.UserID {
			return repository.ConsumeExtraPacksRow{}, &pgconn.PgError{Code: "23505"}
		}
		return repository.ConsumeExtraPacksRow{Success: true, NewBalance: rec.ResultValue}, nil
	}

	usable := m.usable(arg.UserID, arg.Now)
	var total int32
	for _, p := range usable {
		total += p.Quantity - p.Consumed
	}
	if total < arg.Count {
		return repository.ConsumeExtraPacksRow{NewBalance: total}, nil
	}

	left := arg.Count
	for _, p := range usable {
		if left == 0 {
			break
		}
		take := min(left, p.Quantity-p.Consumed)
		p.Consumed += take
		left -= take
		m.purchases[p.ID] = p
	}

	balance := total - arg.Count
	m.ledger[arg.IdempotencyKey] = repository.QuotaConsumption{
		IdempotencyKey: arg.IdempotencyKey,
		UserID:         arg.UserID,
		Source:         "extra",
		Quantity:       arg.Count,
		ResultValue:    balance,
	}
	return repository.ConsumeExtraPacksRow{Success: true, Applied: true, NewBalance: balance}, nil
}

func (m *memStore) RefundExtraPackPurchase(ctx context.Context, arg repository.RefundExtraPackPurchaseParams) (repository.ExtraPackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RefundExtraPackPurchase"); err != nil {
		return repository.ExtraPackPurchase{}, err
	}
	p, ok := m.purchases[arg.ID]
	if !ok || p.Status == "refunded" || p.Consumed != 0 {
		return repository.ExtraPackPurchase{}, pgx.ErrNoRows
	}
	refundedAt := arg.RefundedAt
	amount := arg.RefundAmountCents
	p.Status = "refunded"
	p.RefundedAt = &refundedAt
	p.RefundAmountCents = &amount
	m.purchases[p.ID] = p
	return p, nil
}

func (m *memStore) ExpireExtraPackPurchases(ctx context.Context, now time.Time) (repository.ExpireExtraPackPurchasesRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExpireExtraPackPurchases"); err != nil {
		return repository.ExpireExtraPackPurchasesRow{}, err
	}
	var row repository.ExpireExtraPackPurchasesRow
	users := make(map[uuid.UUID]struct{})
	for id, p := range m.purchases {
		if p.Status == "active" && p.ExpiresAt.Before(now) {
			p.Status = "expired"
			m.purchases[id] = p
			row.Expired++
			users[p.UserID] = struct{}{}
		}
	}
	row.UsersAffected = int64(len(users))
	return row, nil
}

// =============================================================================
// Helpers
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func utc(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

// staleLookupStore answers the first idempotency lookup as if the key had
// not been written yet, the way a read can race a concurrent commit.
// With ownerBlind set, the increment reports a replay for any known key
// without checking who owns it.
type staleLookupStore struct {
	*memStore

	ownerBlind bool

	mu     sync.Mutex
	looked bool
}

func (s *staleLookupStore) GetQuotaConsumption(ctx context.Context, idempotencyKey string) (repository.QuotaConsumption, error) {
	s.mu.Lock()
	first := !s.looked
	s.looked = true
	s.mu.Unlock()
	if first {
		return repository.QuotaConsumption{}, pgx.ErrNoRows
	}
	return s.memStore.GetQuotaConsumption(ctx, idempotencyKey)
}

func (s *staleLookupStore) IncrementPackUsage(ctx context.Context, arg repository.IncrementPackUsageParams) (repository.IncrementPackUsageRow, error) {
	if s.ownerBlind {
		s.memStore.mu.Lock()
		rec, ok := s.memStore.ledger[arg.IdempotencyKey]
		s.memStore.mu.Unlock()
		if ok {
			return repository.IncrementPackUsageRow{NewCount: rec.ResultValue, Accepted: true}, nil
		}
	}
	return s.memStore.IncrementPackUsage(ctx, arg)
}
