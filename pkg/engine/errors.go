package engine

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the category of a control-plane error.
type ErrorCode string

const (
	// ErrCodeValidation indicates bad or missing input, such as a server
	// setup request without a DNS zone.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeNotFound indicates an unknown server, application, or job.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodePreconditionFailed indicates a violated invariant, such as the
	// DNS-first rule or a missing dependency.
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"

	// ErrCodeResourceBusy indicates the target server already has an active
	// job. Submissions are rejected rather than queued silently.
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY"

	// ErrCodeCircularDependency indicates a cycle in the application
	// dependency graph.
	ErrCodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// ErrCodeDependentsPresent indicates a removal would break another
	// still-deployed application.
	ErrCodeDependentsPresent ErrorCode = "DEPENDENTS_PRESENT"

	// ErrCodeExecution wraps an underlying provider or provisioning failure.
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"

	// ErrCodeTimeout indicates a bounded wait was exceeded.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeCancelled indicates the operation was cancelled.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Error is a classified control-plane error with optional target and
// operation context.
type Error struct {
	// Code is the error category used for programmatic handling.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Target is the resource name that caused the error, if applicable.
	Target string `json:"target,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Target != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (target=%s): %v", e.Code, e.Message, e.Target, e.Err)
	case e.Target != "":
		return fmt.Sprintf("[%s] %s (target=%s)", e.Code, e.Message, e.Target)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new classified error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates an error for bad or missing input.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message}
}

// NewNotFoundError creates an error for an unknown resource.
func NewNotFoundError(kind, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", kind),
		Target:  name,
	}
}

// NewPreconditionError creates an error for a violated invariant.
func NewPreconditionError(message string) *Error {
	return &Error{Code: ErrCodePreconditionFailed, Message: message}
}

// NewExecutionError wraps an underlying provider or provisioning failure.
func NewExecutionError(message string, err error) *Error {
	return &Error{Code: ErrCodeExecution, Message: message, Err: err}
}

// NewTimeoutError creates an error for an exceeded bounded wait.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Code: ErrCodeTimeout, Message: message, Err: err}
}

// NewCancelledError creates an error for a cancelled operation.
func NewCancelledError(message string) *Error {
	return &Error{Code: ErrCodeCancelled, Message: message}
}

// WithTarget adds target resource context to an error.
func (e *Error) WithTarget(target string) *Error {
	e.Target = target
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the error code of err, or ErrCodeExecution if err is not a
// classified error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeExecution
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsNotFound returns true if the error indicates an unknown resource.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsPreconditionFailed returns true if the error indicates a violated
// invariant.
func IsPreconditionFailed(err error) bool { return hasCode(err, ErrCodePreconditionFailed) }

// IsResourceBusy returns true if the error indicates the busy-server
// exclusion rejected a submission.
func IsResourceBusy(err error) bool { return hasCode(err, ErrCodeResourceBusy) }

// IsCircularDependency returns true if the error indicates a dependency
// cycle.
func IsCircularDependency(err error) bool { return hasCode(err, ErrCodeCircularDependency) }

// IsDependentsPresent returns true if the error indicates an unsafe removal.
func IsDependentsPresent(err error) bool { return hasCode(err, ErrCodeDependentsPresent) }

// IsTimeout returns true if the error indicates an exceeded bounded wait.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsCancelled returns true if the error indicates cancellation.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }
