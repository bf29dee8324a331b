package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")

	ErrConfigurationMissing = errors.New("configuration missing")
	ErrSubmissionFailed     = errors.New("submission failed")
	ErrProcessingFailed     = errors.New("processing failed")
	ErrJobNotFound          = fmt.Errorf("job not found: %w", ErrNotFound)
	ErrMalformedTriggerKey  = errors.New("malformed trigger key")
	ErrJobExists            = errors.New("job already exists")

	// ErrConflict is returned by conditional writes whose precondition no
	// longer holds (the record left PENDING before the write landed).
	ErrConflict = errors.New("conditional update rejected")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Unavailable reports a capability that was not configured at startup.
func Unavailable(capability, reason string) error {
	return NewAppError("CONFIG_MISSING", fmt.Sprintf("%s is not configured: %s", capability, reason), ErrConfigurationMissing)
}

// ValidationFailed builds a client-facing validation error.
func ValidationFailed(message string) error {
	return NewAppError("VALIDATION_ERROR", message, ErrValidation)
}

// HTTPStatus maps the error taxonomy onto HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a short message safe to show to HTTP clients.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrConfigurationMissing):
		return "service is not configured"
	case errors.Is(err, ErrNotFound):
		return "not found"
	}
	return "internal error"
}
