package plan

import (
	"time"

	"github.com/google/uuid"
)

// Interval is a billing interval.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// Plan represents a subscription plan. Prices are stored in the currency's
// minor unit (cents).
type Plan struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name            string     `json:"name" gorm:"not null;uniqueIndex"`
	Description     string     `json:"description"`
	MonthlyPrice    int64      `json:"monthly_price" gorm:"not null"`
	AnnualPrice     int64      `json:"annual_price" gorm:"not null"`
	ISOCurrencyCode string     `json:"iso_currency_code" gorm:"not null;default:usd"`
	TrialPeriodDays int        `json:"trial_period_days" gorm:"not null;default:0"`
	InheritsFromID  *uuid.UUID `json:"inherits_from_id,omitempty" gorm:"type:uuid"`
	Active          bool       `json:"active" gorm:"not null;default:true"`

	// Processor identifiers, never exposed to clients.
	StripeProductID      string `json:"-"`
	StripeMonthlyPriceID string `json:"-"`
	StripeAnnualPriceID  string `json:"-"`

	Features []PlanFeature `json:"-" gorm:"foreignKey:PlanID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// HasTrial reports whether the plan offers a free trial.
func (p *Plan) HasTrial() bool {
	return p.TrialPeriodDays > 0
}

// StripePriceID returns the processor price id for the given interval.
func (p *Plan) StripePriceID(interval Interval) string {
	if interval == IntervalYear {
		return p.StripeAnnualPriceID
	}
	return p.StripeMonthlyPriceID
}

// Price returns the plan price for the given interval in minor units.
func (p *Plan) Price(interval Interval) int64 {
	if interval == IntervalYear {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// Feature is a catalog entry describing a capability or limit that plans
// can carry a value for.
type Feature struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Key         string    `json:"key" gorm:"not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Feature) TableName() string {
	return "features"
}

// Well-known feature keys.
const (
	FeatureSummariesPerMonth = "summaries_per_month"
	FeatureMaxDocumentSizeMB = "max_document_size_mb"
	FeaturePriorityQueue     = "priority_queue"
)

// PlanFeature assigns a value to a feature for a specific plan. Plans
// without an explicit value inherit it from their parent plan.
type PlanFeature struct {
	PlanID    uuid.UUID `json:"plan_id" gorm:"type:uuid;primaryKey"`
	FeatureID uuid.UUID `json:"feature_id" gorm:"type:uuid;primaryKey"`
	Value     string    `json:"value" gorm:"not null"`

	Feature Feature `json:"-" gorm:"foreignKey:FeatureID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (PlanFeature) TableName() string {
	return "plan_features"
}
