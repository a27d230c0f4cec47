// Package dErrors provides code-carrying domain errors.
//
// Services translate infrastructure facts (pkg/platform/sentinel) and guard
// failures into these errors; the HTTP layer maps codes onto status codes.
// Conflict errors that reject an overcommit carry the numeric remaining
// capacity so callers can retry with a corrected value.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	// CodeValidation marks malformed or out-of-range input.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks input that fails parsing at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks a request the handler could not interpret.
	CodeBadRequest Code = "bad_request"
	// CodeConflict marks concurrent overcommit, duplicates, and self-dealing.
	CodeConflict Code = "conflict"
	// CodeInvalidState marks an operation invalid for the current lifecycle state.
	CodeInvalidState Code = "invalid_state"
	// CodeInvariantViolation marks a broken aggregate invariant detected inside
	// domain constructors and transition guards.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnauthorized marks a missing or invalid actor identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks an actor lacking the required role or ownership.
	CodeForbidden Code = "forbidden"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeTimeout marks a transaction aborted by deadline or lock wait.
	CodeTimeout Code = "timeout"
	// CodeInternal marks infrastructure failures reported generically to callers.
	CodeInternal Code = "internal"
)

// Error is the concrete domain error. Remaining is non-nil only for conflict
// errors produced by capacity checks (percentage or quantity).
type Error struct {
	Code      Code
	Message   string
	Remaining *int
	err       error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a domain error with a code and a caller-facing message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, err: err}
}

// NewConflict builds a conflict error carrying the remaining capacity the
// caller may still commit.
func NewConflict(message string, remaining int) error {
	return &Error{Code: CodeConflict, Message: message, Remaining: &remaining}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Unwrap()
		if err == nil {
			return false
		}
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost domain code in the chain, or CodeInternal when
// the error carries none.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// RemainingOf extracts the remaining capacity from a conflict error. The
// second return is false when the chain carries no capacity information.
func RemainingOf(err error) (int, bool) {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Remaining != nil {
			return *domainErr.Remaining, true
		}
		err = domainErr.Unwrap()
		if err == nil {
			break
		}
	}
	return 0, false
}
