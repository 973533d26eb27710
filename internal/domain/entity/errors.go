package entity

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested record was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrConnection indicates a transient failure reaching the remote store.
	// Timeouts, network failures and circuit-open fast-fails all match it.
	ErrConnection = errors.New("remote store unreachable")

	// ErrTimeout indicates that a remote call did not finish within its time budget
	ErrTimeout = errors.New("operation timeout")

	// ErrCircuitOpen indicates that the health monitor refused the call
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrConflict indicates a duplicate or already-existing record
	ErrConflict = errors.New("record already exists")

	// ErrUnauthorized indicates the remote store rejected the caller's identity
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates local throttling of an operation
	ErrRateLimited = errors.New("rate limited")

	// ErrBadQuery indicates a missing collection or a malformed query
	ErrBadQuery = errors.New("bad query")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ConnectionError is a transient failure talking to the remote store.
// Reason carries a diagnostic such as the circuit breaker state.
type ConnectionError struct {
	Op     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	msg := "connection error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrConnection and the underlying cause.
func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Err}
}

// ConflictError reports a duplicate record.
type ConflictError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError is returned when an operation is throttled locally.
// It is not a remote failure and is never retried.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s attempts, please wait %s", e.Operation, HumanWait(e.RetryAfter))
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// HumanWait renders a wait time for people: whole seconds below a minute,
// whole minutes (rounded up) otherwise.
func HumanWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	if d < time.Minute {
		secs := int((d + time.Second - 1) / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}

// IsConnection reports whether err is a transient connectivity failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// IsTerminalFailure reports whether err is definitional: retrying cannot help.
func IsTerminalFailure(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBadQuery)
}
