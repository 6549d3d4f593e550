package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Is and As re-export the standard library helpers so callers of this
// package do not need a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New re-exports errors.New for plain sentinel errors.
func New(text string) error { return stderrors.New(text) }

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeUnavailable    ErrorType = "unavailable"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTHENTICATION_ERROR", message)
}

func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "AUTHORIZATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// Resilience-specific errors

// NewCircuitOpenError is returned when a circuit breaker rejects a call
// without invoking the protected operation. Callers can distinguish it from
// a real downstream failure via IsCircuitOpen.
func NewCircuitOpenError(operation string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "CIRCUIT_OPEN", fmt.Sprintf("circuit breaker open for %s", operation)).
		WithDetail("operation", operation)
}

// NewServiceNotRegisteredError signals misuse of a health or coordinator API
// with a service name that was never registered.
func NewServiceNotRegisteredError(service string) *AppError {
	return NewAppError(ErrorTypeNotFound, "SERVICE_NOT_REGISTERED", fmt.Sprintf("service %s is not registered", service)).
		WithDetail("service", service)
}

// NewAlertNotFoundError signals an acknowledge/resolve call for an unknown alert ID.
func NewAlertNotFoundError(alertID string) *AppError {
	return NewAppError(ErrorTypeNotFound, "ALERT_NOT_FOUND", fmt.Sprintf("alert %s not found", alertID)).
		WithDetail("alert_id", alertID)
}

// NewProbeError wraps a health probe failure. It never escapes the monitor
// as a panic or request-path error; it only feeds status bookkeeping.
func NewProbeError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "PROBE_FAILED", message).
		WithDetail("service", service)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsCircuitOpen reports whether err is the synthetic rejection produced by an
// open circuit breaker rather than a genuine downstream failure.
func IsCircuitOpen(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == "CIRCUIT_OPEN"
}

// IsTimeout reports whether err represents an elapsed deadline, either our
// own timeout type or a context/net deadline error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if IsType(err, ErrorTypeTimeout) {
		return true
	}
	if err == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	if As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// StatusCoder is implemented by errors carrying an HTTP-like status code.
// Downstream clients often wrap responses this way; the default retry
// predicate uses it to recognize 5xx and 429 failures.
type StatusCoder interface {
	StatusCode() int
}

// IsRetryable implements the default retry predicate: timeouts, rate limits,
// connection resets, and server-class (5xx) failures are retryable; circuit
// rejections, client errors, and validation failures are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCircuitOpen(err) {
		return false
	}
	if appErr, ok := err.(*AppError); ok {
		switch appErr.Type {
		case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeExternal, ErrorTypeUnavailable:
			return true
		default:
			return false
		}
	}
	if IsTimeout(err) {
		return true
	}
	var sc StatusCoder
	if As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}
	var netErr net.Error
	if As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "temporarily unavailable", "too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
