// Package errors defines the structured error taxonomy shared by the
// workflow services and the HTTP layer. Every rejection carries enough
// detail for a caller to render an actionable message without a second
// round-trip.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of recoverable-by-caller failure.
type ErrorCode string

const (
	CodeNotFound             ErrorCode = "not_found"
	CodeForbidden            ErrorCode = "forbidden"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeInvalidInput         ErrorCode = "invalid_input"
	CodeWorkspaceLocked      ErrorCode = "workspace_locked"
	CodeIncompleteSubmission ErrorCode = "incomplete_submission"
	CodeSignOffIncomplete    ErrorCode = "sign_off_incomplete"
	CodeDuplicateSubmission  ErrorCode = "duplicate_submission"
	CodeInvalidRecipient     ErrorCode = "invalid_recipient"
	CodeConflict             ErrorCode = "conflict"
	CodeRateLimitExceeded    ErrorCode = "rate_limit_exceeded"
	CodeInternal             ErrorCode = "internal"
)

// ServiceError is the canonical error type crossing service boundaries.
type ServiceError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetail attaches a structured detail entry and returns the error.
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error for logging while keeping the
// outward message stable.
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.cause = err
	return e
}

func newError(code ErrorCode, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown entity id.
func NotFound(entity, id string) *ServiceError {
	return newError(CodeNotFound, "%s %s not found", entity, id).
		WithDetail("entity", entity).WithDetail("id", id)
}

// Forbidden reports a missing org membership or ownership.
func Forbidden(format string, args ...interface{}) *ServiceError {
	return newError(CodeForbidden, format, args...)
}

// Unauthorized reports a missing or invalid identity.
func Unauthorized(format string, args ...interface{}) *ServiceError {
	return newError(CodeUnauthorized, format, args...)
}

// InvalidInput reports malformed caller input.
func InvalidInput(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidInput, format, args...)
}

// WorkspaceLocked reports a mutation attempted after submission.
func WorkspaceLocked(workspaceID string) *ServiceError {
	return newError(CodeWorkspaceLocked, "workspace %s is locked", workspaceID).
		WithDetail("workspace_id", workspaceID)
}

// IncompleteSubmission reports failed schema completeness validation. The
// missing requirement keys travel in the details so the caller can render
// them directly.
func IncompleteSubmission(missingFields, missingDocs []string) *ServiceError {
	return newError(CodeIncompleteSubmission, "submission is incomplete").
		WithDetail("missing_fields", missingFields).
		WithDetail("missing_documents", missingDocs)
}

// SignOffIncomplete reports an unsatisfied sign-off gate.
func SignOffIncomplete(unsatisfied []string) *ServiceError {
	return newError(CodeSignOffIncomplete, "required sign-offs are not satisfied").
		WithDetail("unsatisfied_requirements", unsatisfied)
}

// DuplicateSubmission reports a re-submit attempt on a locked workspace.
func DuplicateSubmission(workspaceID string) *ServiceError {
	return newError(CodeDuplicateSubmission, "workspace %s has already been submitted", workspaceID).
		WithDetail("workspace_id", workspaceID)
}

// InvalidRecipient reports a malformed bulk-issue target.
func InvalidRecipient(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidRecipient, format, args...)
}

// Conflict reports a state-machine transition that is not permitted.
func Conflict(format string, args ...interface{}) *ServiceError {
	return newError(CodeConflict, format, args...)
}

// RateLimitExceeded reports request throttling.
func RateLimitExceeded() *ServiceError {
	return newError(CodeRateLimitExceeded, "too many requests")
}

// Internal wraps an unexpected failure. The cause is retained for logs but
// not exposed in the message.
func Internal(err error) *ServiceError {
	return newError(CodeInternal, "internal error").WithCause(err)
}

// GetServiceError extracts a ServiceError from an error chain, wrapping
// unknown errors as internal.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return Internal(err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code == code
	}
	return false
}

// HTTPStatus maps an error code to its transport status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidInput, CodeInvalidRecipient:
		return http.StatusBadRequest
	case CodeWorkspaceLocked, CodeDuplicateSubmission, CodeConflict:
		return http.StatusConflict
	case CodeIncompleteSubmission, CodeSignOffIncomplete:
		return http.StatusUnprocessableEntity
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
