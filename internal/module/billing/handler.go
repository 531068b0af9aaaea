package billing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Handler handles billing HTTP endpoints.
type Handler struct {
	service        *Service
	publishableKey string
	logger         *zap.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service, publishableKey string, logger *zap.Logger) *Handler {
	return &Handler{
		service:        service,
		publishableKey: publishableKey,
		logger:         logger,
	}
}

// RegisterRoutes registers billing routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	billing := rg.Group("/billing", middleware.RequireAuth(validator))
	{
		billing.GET("/subscription", h.GetSubscription)
		billing.POST("/subscription/cancel", h.CancelAtPeriodEnd)
		billing.POST("/subscription/cancel-immediately", h.CancelNow)
		billing.POST("/subscription/reactivate", h.Reactivate)
		billing.PUT("/subscription/payment-method", h.UpdatePaymentMethod)

		billing.GET("/payment-methods", h.ListPaymentMethods)
		billing.GET("/payment-methods/default", h.GetDefaultPaymentMethod)
		billing.GET("/payment-methods/used-before/:id", h.CardUsedBefore)
		billing.POST("/payment-methods/attach", h.AttachPaymentMethod)
		billing.DELETE("/payment-methods/:id", h.DetachPaymentMethod)

		billing.GET("/trial-eligibility", h.TrialEligibility)
		billing.POST("/quote-invoice", h.QuoteInvoice)
		billing.GET("/promotion-codes/:code/valid", h.ValidatePromotionCode)

		billing.GET("/invoices", h.ListInvoices)
		billing.GET("/invoices/upcoming", h.UpcomingInvoice)
	}

	// The publishable key is not a secret; no auth required.
	rg.GET("/billing/publishable-key", h.PublishableKey)
}

// GetSubscription handles GET /billing/subscription. A user without a
// subscription gets a 200 with null data, matching what callers poll for.
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.service.GetSubscription(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, ErrSubscriptionNotFound) {
		response.OK(c, nil)
		return
	}
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToSubscriptionResponse(sub))
}

// CancelAtPeriodEnd handles POST /billing/subscription/cancel.
func (h *Handler) CancelAtPeriodEnd(c *gin.Context) {
	sub, err := h.service.CancelAtPeriodEnd(c.Request.Context(), middleware.GetUserID(c))
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		response.NotFound(c, "SUBSCRIPTION_NOT_FOUND", "no subscription to cancel")
		return
	case errors.Is(err, ErrAlreadyCanceling):
		response.Fail(c, http.StatusConflict, response.Error{Code: "ALREADY_CANCELING", Message: "subscription is already set to cancel"})
		return
	case err != nil:
		h.handleGatewayError(c, "cancel subscription", err)
		return
	}
	response.OK(c, ToSubscriptionResponse(sub))
}

// CancelNow handles POST /billing/subscription/cancel-immediately.
func (h *Handler) CancelNow(c *gin.Context) {
	sub, err := h.service.CancelNow(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, ErrSubscriptionNotFound) {
		response.NotFound(c, "SUBSCRIPTION_NOT_FOUND", "no subscription to cancel")
		return
	}
	if err != nil {
		h.handleGatewayError(c, "cancel subscription now", err)
		return
	}
	response.OK(c, ToSubscriptionResponse(sub))
}

// Reactivate handles POST /billing/subscription/reactivate.
func (h *Handler) Reactivate(c *gin.Context) {
	sub, err := h.service.Reactivate(c.Request.Context(), middleware.GetUserID(c))
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		response.NotFound(c, "SUBSCRIPTION_NOT_FOUND", "no subscription to reactivate")
		return
	case errors.Is(err, ErrNotCanceling):
		response.Fail(c, http.StatusConflict, response.Error{Code: "NOT_CANCELING", Message: "subscription is not set to cancel"})
		return
	case err != nil:
		h.handleGatewayError(c, "reactivate subscription", err)
		return
	}
	response.OK(c, ToSubscriptionResponse(sub))
}

// UpdatePaymentMethod handles PUT /billing/subscription/payment-method.
func (h *Handler) UpdatePaymentMethod(c *gin.Context) {
	var req UpdatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	sub, err := h.service.UpdatePaymentMethod(c.Request.Context(), middleware.GetUserID(c), req.PaymentMethodID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		response.NotFound(c, "SUBSCRIPTION_NOT_FOUND", "no subscription to update")
		return
	}
	if err != nil {
		h.handleGatewayError(c, "update payment method", err)
		return
	}
	response.OK(c, ToSubscriptionResponse(sub))
}

// ListPaymentMethods handles GET /billing/payment-methods.
func (h *Handler) ListPaymentMethods(c *gin.Context) {
	methods, err := h.service.ListPaymentMethods(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.handleGatewayError(c, "list payment methods", err)
		return
	}

	out := make([]PaymentMethodResponse, 0, len(methods))
	for _, pm := range methods {
		out = append(out, ToPaymentMethodResponse(pm))
	}
	response.OK(c, out)
}

// GetDefaultPaymentMethod handles GET /billing/payment-methods/default.
func (h *Handler) GetDefaultPaymentMethod(c *gin.Context) {
	pm, err := h.service.GetDefaultPaymentMethod(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.handleGatewayError(c, "get default payment method", err)
		return
	}
	if pm == nil {
		response.OK(c, nil)
		return
	}
	response.OK(c, ToPaymentMethodResponse(pm))
}

// CardUsedBefore handles GET /billing/payment-methods/used-before/:id.
func (h *Handler) CardUsedBefore(c *gin.Context) {
	used, err := h.service.HasCardBeenUsedBefore(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleGatewayError(c, "card used-before check", err)
		return
	}
	response.OK(c, gin.H{"used_before": used})
}

// AttachPaymentMethod handles POST /billing/payment-methods/attach.
func (h *Handler) AttachPaymentMethod(c *gin.Context) {
	var req AttachPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	pm, err := h.service.AttachPaymentMethod(c.Request.Context(), middleware.GetUserID(c), req.PaymentMethodID, req.SetAsDefault)
	if err != nil {
		h.handleGatewayError(c, "attach payment method", err)
		return
	}
	response.OK(c, ToPaymentMethodResponse(pm))
}

// DetachPaymentMethod handles DELETE /billing/payment-methods/:id.
func (h *Handler) DetachPaymentMethod(c *gin.Context) {
	err := h.service.DetachPaymentMethod(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if errors.Is(err, ErrProfileNotFound) {
		response.NotFound(c, "PAYMENT_METHOD_NOT_FOUND", "payment method not found")
		return
	}
	if err != nil {
		h.handleGatewayError(c, "detach payment method", err)
		return
	}
	response.NoContent(c)
}

// TrialEligibility handles GET /billing/trial-eligibility.
func (h *Handler) TrialEligibility(c *gin.Context) {
	eligible, err := h.service.TrialEligible(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("trial eligibility check failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, gin.H{"eligible": eligible})
}

// QuoteInvoice handles POST /billing/quote-invoice.
func (h *Handler) QuoteInvoice(c *gin.Context) {
	var req QuoteInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	if !req.Interval.Valid() {
		response.BadRequest(c, "INVALID_INTERVAL", "interval must be month or year")
		return
	}

	quote, applied, err := h.service.QuoteInvoice(c.Request.Context(), middleware.GetUserID(c), req.PlanID, req.Interval, req.PromotionCode)
	if err != nil {
		h.handleGatewayError(c, "quote invoice", err)
		return
	}
	response.OK(c, ToQuoteInvoiceResponse(quote, applied))
}

// ValidatePromotionCode handles GET /billing/promotion-codes/:code/valid.
func (h *Handler) ValidatePromotionCode(c *gin.Context) {
	code := c.Param("code")
	pc, err := h.service.ValidatePromotionCode(c.Request.Context(), code)
	if errors.Is(err, payment.ErrPromotionCodeNotFound) {
		response.OK(c, PromotionCodeResponse{Code: code, Valid: false})
		return
	}
	if err != nil {
		h.handleGatewayError(c, "validate promotion code", err)
		return
	}
	response.OK(c, PromotionCodeResponse{
		Code:       pc.Code,
		Valid:      pc.Active,
		PercentOff: pc.PercentOff,
		AmountOff:  pc.AmountOff,
		Currency:   pc.Currency,
	})
}

// ListInvoices handles GET /billing/invoices.
func (h *Handler) ListInvoices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "12"))
	invoices, err := h.service.ListInvoices(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		h.handleGatewayError(c, "list invoices", err)
		return
	}

	out := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, ToInvoiceResponse(inv))
	}
	response.OK(c, out)
}

// UpcomingInvoice handles GET /billing/invoices/upcoming.
func (h *Handler) UpcomingInvoice(c *gin.Context) {
	quote, err := h.service.UpcomingInvoice(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, ErrSubscriptionNotFound) {
		response.OK(c, nil)
		return
	}
	if err != nil {
		h.handleGatewayError(c, "upcoming invoice", err)
		return
	}
	response.OK(c, ToQuoteInvoiceResponse(quote, false))
}

// PublishableKey handles GET /billing/publishable-key.
func (h *Handler) PublishableKey(c *gin.Context) {
	response.OK(c, gin.H{"publishable_key": h.publishableKey})
}

// handleGatewayError maps processor rejections to structured envelope
// errors and everything else to a 500.
func (h *Handler) handleGatewayError(c *gin.Context, op string, err error) {
	var pe *payment.ProcessorError
	if errors.As(err, &pe) {
		response.Fail(c, http.StatusUnprocessableEntity, response.Error{
			Code:    pe.Code,
			Message: pe.Message,
		})
		return
	}
	if errors.Is(err, payment.ErrGatewayUnavailable) {
		response.Fail(c, http.StatusServiceUnavailable, response.Error{
			Code:    "GATEWAY_UNAVAILABLE",
			Message: "payment service temporarily unavailable, please try again",
		})
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	response.Internal(c)
}
