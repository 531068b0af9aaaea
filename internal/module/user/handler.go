package user

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Handler handles user HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new user handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the user routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/sign-in", h.SignIn)
		auth.POST("/verify-email", h.VerifyEmail)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
	}

	me := rg.Group("/me", middleware.RequireAuth(validator))
	{
		me.GET("", h.WhoAmI)
		me.PATCH("", h.UpdateProfile)
		me.POST("/change-password", h.ChangePassword)
		me.DELETE("", h.DeleteAccount)
	}

	admin := rg.Group("/admin/users", middleware.RequireAuth(validator), middleware.RequireAdmin())
	{
		admin.GET("", h.ListUsers)
	}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	u, err := h.service.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if errors.Is(err, ErrEmailTaken) {
		response.Fail(c, http.StatusConflict, response.Error{Code: "EMAIL_TAKEN", Message: "email already registered"})
		return
	}
	if err != nil {
		h.logger.Error("register failed", zap.Error(err))
		response.Internal(c)
		return
	}

	response.Created(c, ToUserResponse(u))
}

// SignIn handles POST /auth/sign-in.
func (h *Handler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	u, token, expiresAt, err := h.service.SignIn(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.Error{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"})
		return
	case errors.Is(err, ErrEmailNotVerified):
		response.Fail(c, http.StatusForbidden, response.Error{Code: "EMAIL_NOT_VERIFIED", Message: "please verify your email address"})
		return
	case err != nil:
		h.logger.Error("sign-in failed", zap.Error(err))
		response.Internal(c)
		return
	}

	response.OK(c, SignInResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        ToUserResponse(u),
	})
}

// VerifyEmail handles POST /auth/verify-email.
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.service.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			response.BadRequest(c, "INVALID_TOKEN", "invalid or expired token")
			return
		}
		h.logger.Error("verify email failed", zap.Error(err))
		response.Internal(c)
		return
	}

	response.OK(c, gin.H{"verified": true})
}

// ForgotPassword handles POST /auth/forgot-password.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.service.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.logger.Error("forgot password failed", zap.Error(err))
		response.Internal(c)
		return
	}

	// Same response whether or not the email is registered.
	response.OK(c, gin.H{"sent": true})
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			response.BadRequest(c, "INVALID_TOKEN", "invalid or expired token")
			return
		}
		h.logger.Error("reset password failed", zap.Error(err))
		response.Internal(c)
		return
	}

	response.OK(c, gin.H{"reset": true})
}

// WhoAmI handles GET /me.
func (h *Handler) WhoAmI(c *gin.Context) {
	u, err := h.service.WhoAmI(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "USER_NOT_FOUND", "user not found")
			return
		}
		h.logger.Error("whoami failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToUserResponse(u))
}

// UpdateProfile handles PATCH /me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	u, err := h.service.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), req.Name)
	if err != nil {
		h.logger.Error("update profile failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToUserResponse(u))
}

// ChangePassword handles POST /me/change-password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), middleware.GetUserID(c), req.OldPassword, req.NewPassword)
	if errors.Is(err, ErrInvalidCredentials) {
		response.Fail(c, http.StatusUnauthorized, response.Error{Code: "INVALID_CREDENTIALS", Message: "current password is incorrect"})
		return
	}
	if err != nil {
		h.logger.Error("change password failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, gin.H{"changed": true})
}

// DeleteAccount handles DELETE /me.
func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.service.DeleteAccount(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		h.logger.Error("delete account failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.NoContent(c)
}

// ListUsers handles GET /admin/users.
func (h *Handler) ListUsers(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	users, total, err := h.service.ListUsers(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		response.Internal(c)
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, ToUserResponse(u))
	}
	response.OK(c, UserListResponse{Users: out, Total: total})
}
