package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Session admission errors

var (
	// ErrRateLimited indicates the user attempted session creation too quickly
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionLocked indicates a session creation lock is held for the user
	ErrSessionLocked = errors.New("session creation locked")

	// ErrSessionExists indicates the user already has an active session
	ErrSessionExists = errors.New("active session already exists")

	// ErrSessionEnded indicates the session has already reached a terminal state
	ErrSessionEnded = errors.New("session already ended")
)

// Ledger errors

var (
	// ErrInsufficientBalance indicates insufficient account balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLedgerUnavailable indicates the balance ledger could not be reached
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// Caller-facing error codes carried by DomainError

const (
	CodeRateLimited       = "RATE_LIMITED"
	CodeLocked            = "LOCKED"
	CodeSessionExists     = "SESSION_EXISTS"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeLedgerError       = "LEDGER_ERROR"
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeInternal          = "INTERNAL"
)

// DomainError wraps an error with a stable caller-facing code and a
// human-readable message suitable for user-facing replies
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Code extracts the caller-facing code from an error chain.
// Unrecognized errors map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
