package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is a single structured error entry in an envelope. Callers surface
// the first entry inline next to the control that triggered the request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform wrapper returned by every endpoint.
type Envelope struct {
	StatusCode int     `json:"statusCode"`
	Errors     []Error `json:"errors"`
	Data       any     `json:"data,omitempty"`
}

// New builds an envelope with the given status, errors and data.
func New(statusCode int, data any, errs ...Error) *Envelope {
	return &Envelope{
		StatusCode: statusCode,
		Errors:     errs,
		Data:       data,
	}
}

// FirstError returns the first error entry, or nil if the envelope carries none.
func (e *Envelope) FirstError() *Error {
	if len(e.Errors) == 0 {
		return nil
	}
	return &e.Errors[0]
}

// OK writes a 200 envelope with the given data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, New(http.StatusOK, data))
}

// Created writes a 201 envelope with the given data.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, New(http.StatusCreated, data))
}

// NoContent writes a 204 response with no body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail writes an error envelope with the given status and errors.
func Fail(c *gin.Context, statusCode int, errs ...Error) {
	c.JSON(statusCode, New(statusCode, nil, errs...))
}

// AbortFail writes an error envelope and aborts the handler chain.
func AbortFail(c *gin.Context, statusCode int, errs ...Error) {
	c.AbortWithStatusJSON(statusCode, New(statusCode, nil, errs...))
}

// BadRequest writes a 400 envelope with a single error.
func BadRequest(c *gin.Context, code, message string) {
	Fail(c, http.StatusBadRequest, Error{Code: code, Message: message})
}

// Unauthorized writes a 401 envelope.
func Unauthorized(c *gin.Context) {
	AbortFail(c, http.StatusUnauthorized, Error{Code: "UNAUTHORIZED", Message: "authentication required"})
}

// NotFound writes a 404 envelope with a single error.
func NotFound(c *gin.Context, code, message string) {
	Fail(c, http.StatusNotFound, Error{Code: code, Message: message})
}

// Internal writes a 500 envelope with a generic error.
func Internal(c *gin.Context) {
	Fail(c, http.StatusInternalServerError, Error{Code: "INTERNAL_ERROR", Message: "internal server error"})
}
