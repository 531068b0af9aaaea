package document

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/credits"
	"github.com/clausewise/server/internal/shared/response"
	"github.com/clausewise/server/internal/utils/middleware"
)

// Handler handles document HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new document handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers document routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, validator middleware.TokenValidator) {
	docs := rg.Group("/documents", middleware.RequireAuth(validator))
	{
		docs.POST("", h.Upload)
		docs.GET("", h.List)
		docs.GET("/:id", h.Get)
		docs.DELETE("/:id", h.Delete)
		docs.POST("/:id/summarize", h.Summarize)
	}
}

// Upload handles POST /documents (multipart form: file, optional title).
func (h *Handler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "MISSING_FILE", "a file form field is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.Error(err))
		response.Internal(c)
		return
	}
	defer file.Close()

	doc, err := h.service.Upload(c.Request.Context(), middleware.GetUserID(c), UploadInput{
		Title:       c.PostForm("title"),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		SizeBytes:   fileHeader.Size,
		Body:        file,
	})
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		response.BadRequest(c, "UNSUPPORTED_CONTENT_TYPE", "only PDF, plain text and Word documents are supported")
	case errors.Is(err, ErrDocumentTooLarge):
		response.Fail(c, http.StatusRequestEntityTooLarge, response.Error{
			Code:    "DOCUMENT_TOO_LARGE",
			Message: "the document exceeds your plan's size limit",
		})
	case err != nil:
		h.logger.Error("document upload failed", zap.Error(err))
		response.Internal(c)
	default:
		response.Created(c, ToDocumentResponse(doc))
	}
}

// List handles GET /documents.
func (h *Handler) List(c *gin.Context) {
	docs, err := h.service.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToDocumentListResponse(docs))
}

// Get handles GET /documents/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if errors.Is(err, ErrDocumentNotFound) {
		response.NotFound(c, "DOCUMENT_NOT_FOUND", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load document", zap.Error(err))
		response.Internal(c)
		return
	}
	response.OK(c, ToDocumentResponse(doc))
}

// Delete handles DELETE /documents/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	err := h.service.Delete(c.Request.Context(), middleware.GetUserID(c), id)
	if errors.Is(err, ErrDocumentNotFound) {
		response.NotFound(c, "DOCUMENT_NOT_FOUND", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete document", zap.Error(err))
		response.Internal(c)
		return
	}
	response.NoContent(c)
}

// Summarize handles POST /documents/:id/summarize.
func (h *Handler) Summarize(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.service.Summarize(c.Request.Context(), middleware.GetUserID(c), id)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		response.NotFound(c, "DOCUMENT_NOT_FOUND", "document not found")
	case errors.Is(err, ErrSummaryInProgress):
		response.Fail(c, http.StatusConflict, response.Error{
			Code:    "SUMMARY_IN_PROGRESS",
			Message: "a summary is already being produced for this document",
		})
	case errors.Is(err, credits.ErrNoEntitledSubscription):
		response.Fail(c, http.StatusPaymentRequired, response.Error{
			Code:    "NO_ACTIVE_SUBSCRIPTION",
			Message: "an active subscription is required",
		})
	case errors.Is(err, credits.ErrCreditsExhausted):
		response.Fail(c, http.StatusPaymentRequired, response.Error{
			Code:    "CREDITS_EXHAUSTED",
			Message: "you have used all summarization credits for this period",
		})
	case err != nil:
		h.logger.Error("summarization failed", zap.Error(err), zap.String("document_id", id.String()))
		response.Internal(c)
	default:
		response.OK(c, ToDocumentResponse(doc))
	}
}

func (h *Handler) documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "INVALID_DOCUMENT_ID", "document id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
