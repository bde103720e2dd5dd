package domain

import (
	"errors"
	"fmt"
)

// Error is an engine-level failure that aborts an operation, as opposed to
// a MappingError collected per rule.
type Error struct {
	// Code identifies the error category.
	Code MappingErrorCode

	// Message is a human-readable description.
	Message string

	// Op names the operation that failed, e.g. "list rules".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStoreError wraps a store collaborator failure.
func NewStoreError(op string, err error) *Error {
	return &Error{Code: ErrCodeStoreError, Op: op, Err: err}
}

// NewProfileNotFoundError reports a missing profile.
func NewProfileNotFoundError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeProfileNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewProfileInactiveError reports a profile that exists but is disabled.
func NewProfileInactiveError(name string) *Error {
	return &Error{Code: ErrCodeProfileInactive, Message: fmt.Sprintf("profile %q is not active", name)}
}

// CodeOf returns the code carried by err, ErrCodeUnknown otherwise.
func CodeOf(err error) MappingErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// IsStoreError reports whether err came from the store collaborator.
func IsStoreError(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeStoreError
}

// IsProfileNotFound reports whether err is a missing-profile error.
func IsProfileNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeProfileNotFound
}

// IsProfileInactive reports whether err is an inactive-profile error.
func IsProfileInactive(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeProfileInactive
}
