package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for billing data access.
type Repository interface {
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (*Profile, error)
	UpdateProfile(ctx context.Context, p *Profile) error

	UpsertSubscription(ctx context.Context, s *Subscription) error
	GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error

	RecordCardFingerprint(ctx context.Context, f *CardFingerprint) error
	FingerprintSeen(ctx context.Context, fingerprint string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new billing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateProfile(ctx context.Context, p *Profile) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create billing profile: %w", err)
	}
	return nil
}

func (r *repository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing profile: %w", err)
	}
	return &p, nil
}

func (r *repository) GetProfileByCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	var p Profile
	err := r.db.WithContext(ctx).First(&p, "stripe_customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing profile by customer: %w", err)
	}
	return &p, nil
}

func (r *repository) UpdateProfile(ctx context.Context, p *Profile) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update billing profile: %w", err)
	}
	return nil
}

func (r *repository) UpsertSubscription(ctx context.Context, s *Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_id", "interval", "status", "cancel_at_period_end",
				"current_period_start", "current_period_end", "trial_end",
				"default_payment_method_id", "updated_at",
			}),
		}).
		Create(s).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *repository) GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := r.db.WithContext(ctx).First(&s, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &s, nil
}

func (r *repository) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	var s Subscription
	err := r.db.WithContext(ctx).First(&s, "stripe_subscription_id = ?", stripeSubscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return &s, nil
}

func (r *repository) UpdateSubscription(ctx context.Context, s *Subscription) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *repository) RecordCardFingerprint(ctx context.Context, f *CardFingerprint) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(f).Error
	if err != nil {
		return fmt.Errorf("record card fingerprint: %w", err)
	}
	return nil
}

func (r *repository) FingerprintSeen(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CardFingerprint{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check card fingerprint: %w", err)
	}
	return count > 0, nil
}
