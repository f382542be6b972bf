package errors

import (
	"errors"
	"fmt"
)

// Standard error codes shared across the codebase's packages.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// AppError is the structured error type used throughout this codebase.
// It carries a stable code for programmatic handling, a human message,
// and an optional wrapped cause.
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

// New creates an AppError with the given code, message and optional cause.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches message context to an existing error, preserving its chain.
// If err is already an *AppError, its code is preserved.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Cause: ae.Cause}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// InvalidArgument creates an AppError with CodeInvalidArgument.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// NotFound creates an AppError with CodeNotFound.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// Conflict creates an AppError with CodeConflict.
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Unavailable creates an AppError with CodeUnavailable, used for transient
// downstream failures (broker/database connectivity).
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// Internal creates an AppError with CodeInternal.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

// Code extracts the code from err if it (or something it wraps) is an
// *AppError, otherwise returns CodeInternal.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
