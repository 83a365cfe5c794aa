// Package handlers provides HTTP handler implementations for the management
// API and the Slack Events API webhook.
//
// This file defines the standard response utilities used across all
// endpoints: the error envelope, JSON success helpers, and the mapping from
// the domain error taxonomy to HTTP status codes.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting; 5xx responses are
//     logged with the request-scoped logger.
//   - `failErr()` classifies a service error with errors.Is and delegates to
//     `fail()`, so handlers never switch on concrete error values.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "conflict: channel pair already mapped"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps err onto the error taxonomy:
//
//	ErrAuthenticity -> 401, ErrValidation -> 400, ErrNotFound -> 404,
//	ErrConflict -> 409, ErrDownstream -> 502, anything else -> 500.
//
// Messages of unclassified errors are not echoed to the client.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthenticity):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, domain.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, domain.ErrDownstream):
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, ErrCodeDownstream, "platform request failed")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
