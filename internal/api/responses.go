package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/sentinel/pkg/errors"
)

// APIResponse is the standard envelope for every JSON response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError is the error payload inside an APIResponse
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta carries collection metadata for list responses
type Meta struct {
	Count int `json:"count"`
}

// requestID pulls the request ID placed in the gin context by
// RequestIDMiddleware
func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a 200 with the standard envelope
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// CreatedResponse sends a 201 with the standard envelope
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ListResponse sends a 200 with collection metadata
func ListResponse(c *gin.Context, data interface{}, count int) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Meta:      &Meta{Count: count},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponse sends an error with a specific status code
func ErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponseFromError maps an application error onto an HTTP status.
// Circuit-open and degraded-dependency failures surface as 503 so callers
// can distinguish "we refused" from "we broke".
func ErrorResponseFromError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		statusCode := http.StatusInternalServerError

		switch appErr.Type {
		case errors.ErrorTypeValidation:
			statusCode = http.StatusBadRequest
		case errors.ErrorTypeAuthentication:
			statusCode = http.StatusUnauthorized
		case errors.ErrorTypeAuthorization:
			statusCode = http.StatusForbidden
		case errors.ErrorTypeNotFound:
			statusCode = http.StatusNotFound
		case errors.ErrorTypeConflict:
			statusCode = http.StatusConflict
		case errors.ErrorTypeRateLimit:
			statusCode = http.StatusTooManyRequests
		case errors.ErrorTypeTimeout:
			statusCode = http.StatusRequestTimeout
		case errors.ErrorTypeUnavailable:
			statusCode = http.StatusServiceUnavailable
		case errors.ErrorTypeExternal:
			statusCode = http.StatusBadGateway
		}

		details := make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			details[k] = v
		}
		if len(details) == 0 {
			details = nil
		}

		c.JSON(statusCode, APIResponse{
			Success: false,
			Error: &APIError{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: details,
			},
			RequestID: requestID(c),
			Timestamp: time.Now(),
		})
		return
	}

	ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// BadRequestResponse sends a 400 error
func BadRequestResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, "bad_request", message)
}

// UnauthorizedResponse sends a 401 error
func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, "unauthorized", message)
}

// ForbiddenResponse sends a 403 error
func ForbiddenResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, "forbidden", message)
}

// NotFoundResponse sends a 404 error
func NotFoundResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, "not_found", message)
}

// ConflictResponse sends a 409 error
func ConflictResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusConflict, "conflict", message)
}

// TooManyRequestsResponse sends a 429 error
func TooManyRequestsResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

// InternalErrorResponse sends a 500 error
func InternalErrorResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, "internal_error", message)
}
