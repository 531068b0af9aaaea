package plan

import (
	"time"

	"github.com/google/uuid"
)

// CreatePlanRequest is the admin payload for creating a plan.
type CreatePlanRequest struct {
	Name                 string     `json:"name" binding:"required,max=120"`
	Description          string     `json:"description" binding:"max=1000"`
	MonthlyPrice         int64      `json:"monthly_price" binding:"min=0"`
	AnnualPrice          int64      `json:"annual_price" binding:"min=0"`
	ISOCurrencyCode      string     `json:"iso_currency_code" binding:"required,len=3"`
	TrialPeriodDays      int        `json:"trial_period_days" binding:"min=0,max=365"`
	InheritsFromID       *uuid.UUID `json:"inherits_from_id"`
	Active               bool       `json:"active"`
	StripeProductID      string     `json:"stripe_product_id" binding:"required"`
	StripeMonthlyPriceID string     `json:"stripe_monthly_price_id" binding:"required"`
	StripeAnnualPriceID  string     `json:"stripe_annual_price_id" binding:"required"`
}

// UpdatePlanRequest is the admin payload for updating a plan. Nil fields
// are left unchanged.
type UpdatePlanRequest struct {
	Name            *string    `json:"name"`
	Description     *string    `json:"description"`
	MonthlyPrice    *int64     `json:"monthly_price"`
	AnnualPrice     *int64     `json:"annual_price"`
	TrialPeriodDays *int       `json:"trial_period_days"`
	InheritsFromID  *uuid.UUID `json:"inherits_from_id"`
	Active          *bool      `json:"active"`
}

// CreateFeatureRequest is the admin payload for adding a catalog feature.
type CreateFeatureRequest struct {
	Key         string `json:"key" binding:"required,max=64"`
	Name        string `json:"name" binding:"required,max=120"`
	Description string `json:"description" binding:"max=1000"`
}

// SetPlanFeatureRequest assigns a feature value to a plan.
type SetPlanFeatureRequest struct {
	FeatureKey string `json:"feature_key" binding:"required"`
	Value      string `json:"value" binding:"required"`
}

// PlanResponse is the public representation of a plan with resolved
// feature values.
type PlanResponse struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	MonthlyPrice    int64             `json:"monthly_price"`
	AnnualPrice     int64             `json:"annual_price"`
	ISOCurrencyCode string            `json:"iso_currency_code"`
	TrialPeriodDays int               `json:"trial_period_days"`
	Active          bool              `json:"active"`
	Features        map[string]string `json:"features"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ToPlanResponse converts a resolved plan to its public representation.
func ToPlanResponse(rp *ResolvedPlan) PlanResponse {
	return PlanResponse{
		ID:              rp.Plan.ID,
		Name:            rp.Plan.Name,
		Description:     rp.Plan.Description,
		MonthlyPrice:    rp.Plan.MonthlyPrice,
		AnnualPrice:     rp.Plan.AnnualPrice,
		ISOCurrencyCode: rp.Plan.ISOCurrencyCode,
		TrialPeriodDays: rp.Plan.TrialPeriodDays,
		Active:          rp.Plan.Active,
		Features:        rp.Features,
		CreatedAt:       rp.Plan.CreatedAt,
	}
}
