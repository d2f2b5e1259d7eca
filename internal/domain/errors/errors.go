package errors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the analytical core. Handlers at the
// API boundary map kinds to HTTP status codes; background loops log and
// continue.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAuth        ErrorKind = "authentication"
	KindPermission  ErrorKind = "permission"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream    ErrorKind = "upstream_unavailable"
	KindIntegrity   ErrorKind = "integrity_violation"
	KindInternal    ErrorKind = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Kind       ErrorKind              `json:"error_kind"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewSemanticError is a validation failure of a well-formed request whose
// values violate a domain rule (422 rather than 400).
func NewSemanticError(code, message string) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Kind:       KindAuth,
		Code:       "UNAUTHORIZED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Kind:       KindPermission,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Kind:       KindRateLimited,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// NewUpstreamError marks a failed call to an external collaborator (ledger
// provider, threat feed, webhook sink). Always retryable per policy.
func NewUpstreamError(service, message string) *AppError {
	return &AppError{
		Kind:       KindUpstream,
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    fmt.Sprintf("%s: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewIntegrityError marks evidence digest mismatches and custody chain
// divergence. Never retryable: the artifact is flagged, not repaired.
func NewIntegrityError(code, message string) *AppError {
	return &AppError{
		Kind:       KindIntegrity,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Predefined common errors
var (
	ErrInvalidInput     = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrCaseNotFound     = NewNotFoundError("case")
	ErrEvidenceNotFound = NewNotFoundError("evidence")
	ErrEntityNotFound   = NewNotFoundError("entity")
	ErrRuleNotFound     = NewNotFoundError("alert rule")
	ErrWebhookNotFound  = NewNotFoundError("webhook")
	ErrSetupComplete    = NewConflictError("Setup has already been completed")
	ErrCustodyHeadStale = NewIntegrityError("CUSTODY_HEAD_MISMATCH", "previous hash does not match custody chain head")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsKind checks if an error carries a specific kind
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// AsAppError extracts an AppError if present
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
