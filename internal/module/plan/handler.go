package plan

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Handler handles plan HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new plan handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers plan routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	rg.GET("/plans", h.ListPlans)
	rg.GET("/plans/:id", h.GetPlan)

	admin := rg.Group("/admin", middleware.RequireAuth(validator), middleware.RequireAdmin())
	{
		admin.GET("/plans", h.AdminListPlans)
		admin.POST("/plans", h.CreatePlan)
		admin.PATCH("/plans/:id", h.UpdatePlan)
		admin.DELETE("/plans/:id", h.DeactivatePlan)
		admin.GET("/features", h.ListFeatures)
		admin.POST("/features", h.CreateFeature)
		admin.PUT("/plans/:id/features", h.SetPlanFeature)
		admin.DELETE("/plans/:id/features/:key", h.RemovePlanFeature)
	}
}

// ListPlans handles GET /plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListActivePlans(c.Request.Context())
	if err != nil {
		h.logger.Error("list plans failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, toResponses(plans))
}

// GetPlan handles GET /plans/:id.
func (h *Handler) GetPlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_PLAN_ID", "plan id must be a valid UUID")
		return
	}

	rp, err := h.service.GetPlan(c.Request.Context(), id)
	if errors.Is(err, ErrPlanNotFound) {
		response.NotFound(c, "PLAN_NOT_FOUND", "plan not found")
		return
	}
	if err != nil {
		h.logger.Error("get plan failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToPlanResponse(rp))
}

// AdminListPlans handles GET /admin/plans.
func (h *Handler) AdminListPlans(c *gin.Context) {
	plans, err := h.service.ListAllPlans(c.Request.Context())
	if err != nil {
		h.logger.Error("admin list plans failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, toResponses(plans))
}

// CreatePlan handles POST /admin/plans.
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	p, err := h.service.CreatePlan(c.Request.Context(), &Plan{
		Name:                 req.Name,
		Description:          req.Description,
		MonthlyPrice:         req.MonthlyPrice,
		AnnualPrice:          req.AnnualPrice,
		ISOCurrencyCode:      req.ISOCurrencyCode,
		TrialPeriodDays:      req.TrialPeriodDays,
		InheritsFromID:       req.InheritsFromID,
		Active:               req.Active,
		StripeProductID:      req.StripeProductID,
		StripeMonthlyPriceID: req.StripeMonthlyPriceID,
		StripeAnnualPriceID:  req.StripeAnnualPriceID,
	})
	if errors.Is(err, ErrPlanNotFound) {
		response.BadRequest(c, "PARENT_PLAN_NOT_FOUND", "inherited plan does not exist")
		return
	}
	if err != nil {
		h.logger.Error("create plan failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.Created(c, ToPlanResponse(&ResolvedPlan{Plan: p, Features: map[string]string{}}))
}

// UpdatePlan handles PATCH /admin/plans/:id.
func (h *Handler) UpdatePlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_PLAN_ID", "plan id must be a valid UUID")
		return
	}

	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	p, err := h.service.UpdatePlan(c.Request.Context(), id, func(p *Plan) {
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.MonthlyPrice != nil {
			p.MonthlyPrice = *req.MonthlyPrice
		}
		if req.AnnualPrice != nil {
			p.AnnualPrice = *req.AnnualPrice
		}
		if req.TrialPeriodDays != nil {
			p.TrialPeriodDays = *req.TrialPeriodDays
		}
		if req.InheritsFromID != nil {
			p.InheritsFromID = req.InheritsFromID
		}
		if req.Active != nil {
			p.Active = *req.Active
		}
	})
	switch {
	case errors.Is(err, ErrPlanNotFound):
		response.NotFound(c, "PLAN_NOT_FOUND", "plan not found")
		return
	case errors.Is(err, ErrInheritanceCycle):
		response.Fail(c, http.StatusConflict, response.Error{Code: "INHERITANCE_CYCLE", Message: "plan inheritance forms a cycle"})
		return
	case err != nil:
		h.logger.Error("update plan failed", zap.Error(err))
		response.Internal(c)
		return
	}

	features, err := h.service.ResolveFeatures(c.Request.Context(), p)
	if err != nil {
		h.logger.Error("resolve plan features failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToPlanResponse(&ResolvedPlan{Plan: p, Features: features}))
}

// DeactivatePlan handles DELETE /admin/plans/:id.
func (h *Handler) DeactivatePlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_PLAN_ID", "plan id must be a valid UUID")
		return
	}

	if err := h.service.DeactivatePlan(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			response.NotFound(c, "PLAN_NOT_FOUND", "plan not found")
			return
		}
		h.logger.Error("deactivate plan failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.NoContent(c)
}

// ListFeatures handles GET /admin/features.
func (h *Handler) ListFeatures(c *gin.Context) {
	features, err := h.service.ListFeatures(c.Request.Context())
	if err != nil {
		h.logger.Error("list features failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, features)
}

// CreateFeature handles POST /admin/features.
func (h *Handler) CreateFeature(c *gin.Context) {
	var req CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	f, err := h.service.CreateFeature(c.Request.Context(), &Feature{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.logger.Error("create feature failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.Created(c, f)
}

// SetPlanFeature handles PUT /admin/plans/:id/features.
func (h *Handler) SetPlanFeature(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_PLAN_ID", "plan id must be a valid UUID")
		return
	}

	var req SetPlanFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	err = h.service.SetPlanFeature(c.Request.Context(), id, req.FeatureKey, req.Value)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		response.NotFound(c, "PLAN_NOT_FOUND", "plan not found")
		return
	case errors.Is(err, ErrFeatureNotFound):
		response.NotFound(c, "FEATURE_NOT_FOUND", "feature not found")
		return
	case err != nil:
		h.logger.Error("set plan feature failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, gin.H{"updated": true})
}

// RemovePlanFeature handles DELETE /admin/plans/:id/features/:key.
func (h *Handler) RemovePlanFeature(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_PLAN_ID", "plan id must be a valid UUID")
		return
	}

	if err := h.service.RemovePlanFeature(c.Request.Context(), id, c.Param("key")); err != nil {
		if errors.Is(err, ErrFeatureNotFound) {
			response.NotFound(c, "FEATURE_NOT_FOUND", "feature not found")
			return
		}
		h.logger.Error("remove plan feature failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.NoContent(c)
}

func toResponses(plans []*ResolvedPlan) []PlanResponse {
	out := make([]PlanResponse, 0, len(plans))
	for _, rp := range plans {
		out = append(out, ToPlanResponse(rp))
	}
	return out
}
