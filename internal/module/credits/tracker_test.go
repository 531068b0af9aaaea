package credits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
)

type fakeCounterStore struct {
	values   map[string]int64
	getErr   error
	incrErr  error
	setCalls int
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{values: map[string]int64{}}
}

func (f *fakeCounterStore) Get(_ context.Context, key string) (int64, bool, error) {
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	val, ok := f.values[key]
	return val, ok, nil
}

func (f *fakeCounterStore) IncrBy(_ context.Context, key string, n int64, _ time.Duration) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.values[key] += n
	return f.values[key], nil
}

func (f *fakeCounterStore) Set(_ context.Context, key string, n int64, _ time.Duration) error {
	f.setCalls++
	f.values[key] = n
	return nil
}

type fakeUsageRepo struct {
	records  []*UsageRecord
	sumCalls int
}

func (f *fakeUsageRepo) CreateRecord(_ context.Context, record *UsageRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeUsageRepo) SumUnits(_ context.Context, userID uuid.UUID, _, _ time.Time) (int64, error) {
	f.sumCalls++
	var total int64
	for _, r := range f.records {
		if r.UserID == userID {
			total += r.Units
		}
	}
	return total, nil
}

type fakeSubs struct {
	sub *billing.Subscription
}

func (f *fakeSubs) GetSubscription(context.Context, uuid.UUID) (*billing.Subscription, error) {
	if f.sub == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	return f.sub, nil
}

type fakeLimits struct {
	limit int64
}

func (f *fakeLimits) FeatureLimit(context.Context, uuid.UUID, string) (int64, error) {
	return f.limit, nil
}

func activeSubscription() *billing.Subscription {
	now := time.Now().UTC()
	return &billing.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             uuid.New(),
		Status:             billing.StatusActive,
		CurrentPeriodStart: now.AddDate(0, 0, -10),
		CurrentPeriodEnd:   now.AddDate(0, 0, 20),
	}
}

func newTestTracker(counters CounterStore, repo Repository, sub *billing.Subscription, limit int64) *Tracker {
	return NewTracker(counters, repo, &fakeSubs{sub: sub}, &fakeLimits{limit: limit}, zap.NewNop())
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("spends within limit and returns updated balance", func(t *testing.T) {
		sub := activeSubscription()
		counters := newFakeCounterStore()
		repo := &fakeUsageRepo{}
		tracker := newTestTracker(counters, repo, sub, 10)

		balance, err := tracker.Consume(ctx, sub.UserID, nil, 3)

		require.NoError(t, err)
		assert.Equal(t, int64(3), balance.Used)
		assert.Equal(t, int64(7), balance.Remaining)
		require.Len(t, repo.records, 1)
		assert.Equal(t, int64(3), repo.records[0].Units)
	})

	t.Run("exhausted balance rejects without recording", func(t *testing.T) {
		sub := activeSubscription()
		counters := newFakeCounterStore()
		repo := &fakeUsageRepo{}
		tracker := newTestTracker(counters, repo, sub, 2)

		_, err := tracker.Consume(ctx, sub.UserID, nil, 2)
		require.NoError(t, err)

		_, err = tracker.Consume(ctx, sub.UserID, nil, 1)
		assert.ErrorIs(t, err, ErrCreditsExhausted)
		assert.Len(t, repo.records, 1)
	})

	t.Run("no subscription means no credits", func(t *testing.T) {
		tracker := newTestTracker(newFakeCounterStore(), &fakeUsageRepo{}, nil, 10)

		_, err := tracker.Consume(ctx, uuid.New(), nil, 1)

		assert.ErrorIs(t, err, ErrNoEntitledSubscription)
	})

	t.Run("canceled subscription means no credits", func(t *testing.T) {
		sub := activeSubscription()
		sub.Status = billing.StatusCanceled
		tracker := newTestTracker(newFakeCounterStore(), &fakeUsageRepo{}, sub, 10)

		_, err := tracker.Consume(ctx, sub.UserID, nil, 1)

		assert.ErrorIs(t, err, ErrNoEntitledSubscription)
	})

	t.Run("zero units consumes one", func(t *testing.T) {
		sub := activeSubscription()
		tracker := newTestTracker(newFakeCounterStore(), &fakeUsageRepo{}, sub, 10)

		balance, err := tracker.Consume(ctx, sub.UserID, nil, 0)

		require.NoError(t, err)
		assert.Equal(t, int64(1), balance.Used)
	})
}

func TestBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("cold counter rebuilds from usage records", func(t *testing.T) {
		sub := activeSubscription()
		counters := newFakeCounterStore()
		repo := &fakeUsageRepo{records: []*UsageRecord{
			{UserID: sub.UserID, Units: 4},
			{UserID: sub.UserID, Units: 2},
			{UserID: uuid.New(), Units: 100},
		}}
		tracker := newTestTracker(counters, repo, sub, 10)

		balance, err := tracker.Balance(ctx, sub.UserID)

		require.NoError(t, err)
		assert.Equal(t, int64(6), balance.Used)
		assert.Equal(t, int64(4), balance.Remaining)
		assert.Equal(t, 1, counters.setCalls)

		// Warm counter skips the database on the next read.
		_, err = tracker.Balance(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, 1, repo.sumCalls)
	})

	t.Run("counter read failure falls back to database", func(t *testing.T) {
		sub := activeSubscription()
		counters := newFakeCounterStore()
		counters.getErr = assert.AnError
		repo := &fakeUsageRepo{records: []*UsageRecord{{UserID: sub.UserID, Units: 5}}}
		tracker := newTestTracker(counters, repo, sub, 10)

		balance, err := tracker.Balance(ctx, sub.UserID)

		require.NoError(t, err)
		assert.Equal(t, int64(5), balance.Used)
	})

	t.Run("resets at the end of the billing period", func(t *testing.T) {
		sub := activeSubscription()
		tracker := newTestTracker(newFakeCounterStore(), &fakeUsageRepo{}, sub, 10)

		balance, err := tracker.Balance(ctx, sub.UserID)

		require.NoError(t, err)
		assert.Equal(t, sub.CurrentPeriodEnd.UTC(), balance.ResetsAt)
	})

	t.Run("usage beyond limit reports zero remaining", func(t *testing.T) {
		sub := activeSubscription()
		repo := &fakeUsageRepo{records: []*UsageRecord{{UserID: sub.UserID, Units: 15}}}
		tracker := newTestTracker(newFakeCounterStore(), repo, sub, 10)

		balance, err := tracker.Balance(ctx, sub.UserID)

		require.NoError(t, err)
		assert.Equal(t, int64(0), balance.Remaining)
	})
}
