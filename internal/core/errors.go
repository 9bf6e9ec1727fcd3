package core

import (
	"errors"
	"fmt"
)

// Error codes returned across the subsystem boundary.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeOwnership       = "ownership"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
)

// Store sentinels. Backends return these (possibly wrapped) and the lease
// services translate them into OJSErrors.
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrDeadLetterNotFound = errors.New("dead letter job not found")
	ErrVersionConflict    = errors.New("version conflict")
	ErrJobExists          = errors.New("job already exists")
)

// OJSError is the structured error surfaced to callers.
type OJSError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func (e *OJSError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInvalidRequestError reports a malformed request.
func NewInvalidRequestError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

// NewValidationError reports caller misuse such as an empty topic or a zero
// count. It is raised before any store access.
func NewValidationError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

// NewOwnershipError reports that workerID does not hold the lease on jobID.
func NewOwnershipError(workerID, jobID string) *OJSError {
	return &OJSError{
		Code:    ErrCodeOwnership,
		Message: fmt.Sprintf("%q does not hold a lock on the requested job", workerID),
		Details: map[string]any{
			"job_id":    jobID,
			"worker_id": workerID,
		},
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resourceType, resourceID string) *OJSError {
	return &OJSError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError reports a state conflict.
func NewConflictError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

// NewInternalError reports an unexpected failure. Internal errors are
// retryable from the caller's point of view.
func NewInternalError(message string) *OJSError {
	return &OJSError{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}

// ErrorCode extracts the OJSError code from err, or "" when err is not one.
func ErrorCode(err error) string {
	var ojsErr *OJSError
	if errors.As(err, &ojsErr) {
		return ojsErr.Code
	}
	return ""
}

// IsOwnershipError reports whether err is an ownership error.
func IsOwnershipError(err error) bool { return ErrorCode(err) == ErrCodeOwnership }

// IsNotFoundError reports whether err is a not-found error.
func IsNotFoundError(err error) bool { return ErrorCode(err) == ErrCodeNotFound }

// IsValidationError reports whether err is a validation or invalid request error.
func IsValidationError(err error) bool {
	code := ErrorCode(err)
	return code == ErrCodeValidationError || code == ErrCodeInvalidRequest
}
