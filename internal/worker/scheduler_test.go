package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *schedulerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *schedulerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestScheduler_EnqueuesWhenDue(t *testing.T) {
	store := &fakeEnqueuer{pending: map[string]bool{}}
	clock := &schedulerClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler(store, testLogger(), WithSchedulerClock(clock.Now))
	require.NoError(t, s.Every(JobTypeExpireExtraPacks, time.Hour))
	ctx := context.Background()

	s.checkTasks(ctx)
	require.Len(t, store.enqueued(), 1, "first check enqueues immediately")
	first := store.enqueued()[0]
	assert.Equal(t, JobTypeExpireExtraPacks, first.JobType)
	assert.EqualValues(t, 1, first.MaxAttempts)
	assert.JSONEq(t, `{}`, string(first.Payload))

	clock.Advance(30 * time.Minute)
	s.checkTasks(ctx)
	assert.Len(t, store.enqueued(), 1, "not due yet")

	clock.Advance(30 * time.Minute)
	s.checkTasks(ctx)
	assert.Len(t, store.enqueued(), 2)
}

func TestScheduler_SkipsWhenPending(t *testing.T) {
	store := &fakeEnqueuer{pending: map[string]bool{JobTypeExpireTrials: true}}
	s := NewScheduler(store, testLogger())
	require.NoError(t, s.Every(JobTypeExpireTrials, time.Hour))

	s.checkTasks(context.Background())

	assert.Empty(t, store.enqueued())
}

func TestScheduler_Every(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, testLogger())

	require.NoError(t, s.Every(JobTypeExpireTrials, time.Hour))
	assert.ErrorIs(t, s.Every(JobTypeExpireTrials, time.Minute), ErrTaskAlreadyRegistered)
	assert.Error(t, s.Every(JobTypeExpireExtraPacks, 0))
}

func TestScheduler_RunWithoutTasks(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, testLogger())

	assert.ErrorIs(t, s.Run(context.Background()), ErrSchedulerNotConfigured)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	store := &fakeEnqueuer{pending: map[string]bool{}}
	s := NewScheduler(store, testLogger(), WithCheckInterval(10*time.Millisecond))
	require.NoError(t, s.Every(JobTypeExpireTrials, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(store.enqueued()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)
}
