// Package apperr carries the typed error taxonomy shared by the service and
// repository layers. The boundary layer maps codes to transport responses;
// nothing below it ever inspects error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for the boundary layer.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeConflict     Code = "CONFLICT"
	CodeTimeout      Code = "TIMEOUT"
	CodeInternal     Code = "INTERNAL"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// NotFound reports a missing resource by type and identifier.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed field value.
func InvalidInput(field, msg string) *Error {
	return Newf(CodeValidation, "invalid %s: %s", field, msg)
}

// CodeOf extracts the code from an error chain. Errors without a coded
// ancestor are classified as internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
