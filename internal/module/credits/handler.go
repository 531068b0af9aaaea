package credits

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Handler handles credit balance HTTP endpoints.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a new credits handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

// RegisterRoutes registers credit routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	rg.GET("/credits", middleware.RequireAuth(validator), h.GetBalance)
}

// GetBalance handles GET /credits.
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.tracker.Balance(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, ErrNoEntitledSubscription) {
		response.Fail(c, http.StatusPaymentRequired, response.Error{
			Code:    "NO_ACTIVE_SUBSCRIPTION",
			Message: "an active subscription is required",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to load credit balance", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, balance)
}
