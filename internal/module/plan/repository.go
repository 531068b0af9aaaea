package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for plan data access.
type Repository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*Plan, Interval, error)
	ListActive(ctx context.Context) ([]*Plan, error)
	ListAll(ctx context.Context) ([]*Plan, error)
	Update(ctx context.Context, p *Plan) error

	CreateFeature(ctx context.Context, f *Feature) error
	GetFeatureByKey(ctx context.Context, key string) (*Feature, error)
	ListFeatures(ctx context.Context) ([]*Feature, error)
	SetPlanFeature(ctx context.Context, pf *PlanFeature) error
	RemovePlanFeature(ctx context.Context, planID, featureID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new plan repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *Plan) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	var p Plan
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

func (r *repository) GetByStripePriceID(ctx context.Context, priceID string) (*Plan, Interval, error) {
	var p Plan
	err := r.db.WithContext(ctx).
		First(&p, "stripe_monthly_price_id = ? OR stripe_annual_price_id = ?", priceID, priceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrPlanNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get plan by price: %w", err)
	}
	interval := IntervalMonth
	if p.StripeAnnualPriceID == priceID {
		interval = IntervalYear
	}
	return &p, interval, nil
}

func (r *repository) ListActive(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		Where("active = ?", true).
		Order("monthly_price ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	return plans, nil
}

func (r *repository) ListAll(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	err := r.db.WithContext(ctx).
		Preload("Features.Feature").
		Order("created_at ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (r *repository) Update(ctx context.Context, p *Plan) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func (r *repository) CreateFeature(ctx context.Context, f *Feature) error {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create feature: %w", err)
	}
	return nil
}

func (r *repository) GetFeatureByKey(ctx context.Context, key string) (*Feature, error) {
	var f Feature
	err := r.db.WithContext(ctx).First(&f, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFeatureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	return &f, nil
}

func (r *repository) ListFeatures(ctx context.Context) ([]*Feature, error) {
	var features []*Feature
	err := r.db.WithContext(ctx).Order("key ASC").Find(&features).Error
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return features, nil
}

func (r *repository) SetPlanFeature(ctx context.Context, pf *PlanFeature) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(pf).Error
	if err != nil {
		return fmt.Errorf("set plan feature: %w", err)
	}
	return nil
}

func (r *repository) RemovePlanFeature(ctx context.Context, planID, featureID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Delete(&PlanFeature{}, "plan_id = ? AND feature_id = ?", planID, featureID).Error
	if err != nil {
		return fmt.Errorf("remove plan feature: %w", err)
	}
	return nil
}
