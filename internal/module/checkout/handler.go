package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/plan"
	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Request is the payload for a checkout attempt.
type Request struct {
	PlanID           uuid.UUID     `json:"plan_id" binding:"required"`
	Interval         plan.Interval `json:"interval" binding:"required"`
	PaymentMethodID  string        `json:"stripe_payment_method_id" binding:"required"`
	NewPaymentMethod bool          `json:"new_payment_method"`
	SetAsDefault     bool          `json:"set_as_default_payment_method"`
	PromotionCode    string        `json:"promotion_code"`
	ForfeitTrial     bool          `json:"forfeit_trial"`
}

// Response is the terminal outcome of a checkout attempt.
type Response struct {
	Outcome      Outcome                       `json:"outcome"`
	Code         string                        `json:"code,omitempty"`
	Message      string                        `json:"message,omitempty"`
	Subscription *billing.SubscriptionResponse `json:"subscription,omitempty"`
}

// Handler handles checkout HTTP endpoints.
type Handler struct {
	workflow *Workflow
	logger   *zap.Logger
}

// NewHandler creates a new checkout handler.
func NewHandler(workflow *Workflow, logger *zap.Logger) *Handler {
	return &Handler{workflow: workflow, logger: logger}
}

// RegisterRoutes registers checkout routes. Checkout mutations require an
// Idempotency-Key so a retried submit cannot create a duplicate
// subscription.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	rg.POST("/checkout",
		middleware.RequireAuth(validator),
		middleware.IdempotencyRequired(),
		h.Checkout,
	)
}

// Checkout handles POST /checkout.
func (h *Handler) Checkout(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	if !req.Interval.Valid() {
		response.BadRequest(c, "INVALID_INTERVAL", "interval must be month or year")
		return
	}

	result, err := h.workflow.Run(c.Request.Context(), Attempt{
		UserID:           middleware.GetUserID(c),
		PlanID:           req.PlanID,
		Interval:         req.Interval,
		PaymentMethodID:  req.PaymentMethodID,
		NewPaymentMethod: req.NewPaymentMethod,
		SetAsDefault:     req.SetAsDefault,
		PromotionCode:    req.PromotionCode,
		ForfeitTrial:     req.ForfeitTrial,
	})
	if errors.Is(err, plan.ErrPlanNotFound) {
		response.NotFound(c, "PLAN_NOT_FOUND", "plan not found")
		return
	}
	if err != nil {
		h.logger.Error("checkout failed", zap.Error(err))
		response.Internal(c)
		return
	}

	out := Response{
		Outcome: result.Outcome,
		Code:    result.Code,
		Message: result.Message,
	}
	if result.Subscription != nil {
		sr := billing.ToSubscriptionResponse(result.Subscription)
		out.Subscription = &sr
	}

	status := http.StatusOK
	if result.Outcome == OutcomeDeclined || result.Outcome == OutcomeConfirmationFailed || result.Outcome == OutcomeFailed {
		status = http.StatusUnprocessableEntity
	}
	if result.Code != "" && !result.Succeeded() {
		c.JSON(status, response.New(status, out, response.Error{Code: result.Code, Message: result.Message}))
		return
	}
	c.JSON(status, response.New(status, out))
}
