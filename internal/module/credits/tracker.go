package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/plan"
)

const usedKeyPrefix = "credits:summaries:"

// SubscriptionSource yields the user's current subscription. Satisfied by
// *billing.Service.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
}

// LimitSource resolves a plan's numeric feature limit. Satisfied by
// *plan.Service.
type LimitSource interface {
	FeatureLimit(ctx context.Context, planID uuid.UUID, featureKey string) (int64, error)
}

// CounterStore is the hot counter backing the tracker.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	Set(ctx context.Context, key string, n int64, ttl time.Duration) error
}

type redisCounterStore struct {
	client redis.UniversalClient
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client redis.UniversalClient) CounterStore {
	return &redisCounterStore{client: client}
}

func (s *redisCounterStore) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func (s *redisCounterStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		s.client.Expire(ctx, key, ttl)
	}
	return val, nil
}

func (s *redisCounterStore) Set(ctx context.Context, key string, n int64, ttl time.Duration) error {
	return s.client.Set(ctx, key, n, ttl).Err()
}

// Tracker meters summarization credits per user per billing period. Redis
// holds the hot counter, keyed by user and period start; usage records in
// Postgres rebuild the counter when it is cold.
type Tracker struct {
	counters CounterStore
	repo     Repository
	subs     SubscriptionSource
	limits   LimitSource
	logger   *zap.Logger
}

// NewTracker creates a credit tracker.
func NewTracker(counters CounterStore, repo Repository, subs SubscriptionSource, limits LimitSource, logger *zap.Logger) *Tracker {
	return &Tracker{
		counters: counters,
		repo:     repo,
		subs:     subs,
		limits:   limits,
		logger:   logger,
	}
}

// Balance reports the user's credit position for the current period.
func (t *Tracker) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	limit, start, end, err := t.entitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	used, err := t.used(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	return newBalance(limit, used, end), nil
}

// Consume spends units against the user's balance. It returns the balance
// after consumption, or ErrCreditsExhausted leaving the balance untouched.
func (t *Tracker) Consume(ctx context.Context, userID uuid.UUID, documentID *uuid.UUID, units int64) (*Balance, error) {
	if units <= 0 {
		units = 1
	}

	limit, start, end, err := t.entitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	used, err := t.used(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	if used+units > limit {
		return nil, ErrCreditsExhausted
	}

	if err := t.repo.CreateRecord(ctx, &UsageRecord{
		UserID:      userID,
		DocumentID:  documentID,
		Units:       units,
		PeriodStart: start,
	}); err != nil {
		return nil, err
	}

	newUsed, err := t.counters.IncrBy(ctx, t.key(userID, start), units, counterTTL(end))
	if err != nil {
		// The record is durable; the counter rebuilds on the next read.
		t.logger.Warn("credit counter increment failed", zap.Error(err), zap.String("user_id", userID.String()))
		newUsed = used + units
	}
	return newBalance(limit, newUsed, end), nil
}

func (t *Tracker) entitlement(ctx context.Context, userID uuid.UUID) (int64, time.Time, time.Time, error) {
	sub, err := t.subs.GetSubscription(ctx, userID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return 0, time.Time{}, time.Time{}, ErrNoEntitledSubscription
	}
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	if !sub.Status.Entitled() {
		return 0, time.Time{}, time.Time{}, ErrNoEntitledSubscription
	}

	limit, err := t.limits.FeatureLimit(ctx, sub.PlanID, plan.FeatureSummariesPerMonth)
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}

	start, end := periodBounds(sub)
	return limit, start, end, nil
}

// used reads the hot counter, rebuilding it from usage records on a miss.
func (t *Tracker) used(ctx context.Context, userID uuid.UUID, start, end time.Time) (int64, error) {
	key := t.key(userID, start)

	val, ok, err := t.counters.Get(ctx, key)
	if err != nil {
		t.logger.Warn("credit counter read failed, falling back to database", zap.Error(err))
	} else if ok {
		return val, nil
	}

	total, err := t.repo.SumUnits(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	if setErr := t.counters.Set(ctx, key, total, counterTTL(end)); setErr != nil {
		t.logger.Warn("credit counter seed failed", zap.Error(setErr))
	}
	return total, nil
}

func (t *Tracker) key(userID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("%s%s:%s", usedKeyPrefix, userID.String(), periodStart.UTC().Format("2006-01-02"))
}

// periodBounds uses the subscription's billing period when the processor
// has reported one, otherwise the current calendar month UTC.
func periodBounds(sub *billing.Subscription) (time.Time, time.Time) {
	if !sub.CurrentPeriodStart.IsZero() && !sub.CurrentPeriodEnd.IsZero() {
		return sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
	}
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func counterTTL(periodEnd time.Time) time.Duration {
	return time.Until(periodEnd) + 24*time.Hour
}

func newBalance(limit, used int64, resetsAt time.Time) *Balance {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Balance{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetsAt:  resetsAt,
	}
}
