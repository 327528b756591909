// Package harborerr defines the classified error taxonomy used at every
// subsystem boundary in the Agent Runtime Bridge.
//
// Errors are value-typed: a [*Error] carries a stable [Code], a human message,
// optional structured [Details], and an optional wrapped cause. Wire
// serialization (Host Facade responses, legacy transport error frames) reads
// Code/Message/Details directly; internal helper errors may still use
// fmt.Errorf("pkg: context: %w", err) as long as the boundary that returns
// them to a caller wraps the result in a classified *Error first.
package harborerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Code is one of the fixed error kinds recognized across the wire protocol,
// logs, and the orchestrator's tool-result error field.
type Code string

const (
	InvalidRequest  Code = "invalid_request"
	NotFound        Code = "not_found"
	NotConnected    Code = "not_connected"
	PermissionDenied Code = "permission_denied"
	ScopeRequired   Code = "scope_required"
	ToolNotAllowed  Code = "tool_not_allowed"
	RateLimited     Code = "rate_limited"
	ToolFailed      Code = "tool_failed"
	LLMError        Code = "llm_error"
	Timeout         Code = "timeout"
	Cancelled       Code = "cancelled"
	Internal        Code = "internal"
)

// Error is the classified error type returned at every subsystem boundary.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *Error with the same Code. This lets callers
// write errors.Is(err, harborerr.New(harborerr.NotFound, "")) style checks,
// though comparing with [Is] below is the more common idiom.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// MarshalJSON renders the error in the wire shape {code, message, details?}.
func (e *Error) MarshalJSON() ([]byte, error) {
	wire := struct {
		Code    Code           `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	return json.Marshal(wire)
}

// New constructs a classified *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a classified *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a classified *Error carrying cause as its wrapped error.
// The result always carries the passed code, even when cause is already a
// *Error; such a cause stays nested and reachable through errors.As.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WrapContext wraps cause with fallback unless cause is (or wraps) a context
// deadline or cancellation, in which case it classifies as Timeout or
// Cancelled instead. Use this at any boundary whose cause may be a
// context.Context derived from a caller timeout or a cancelled request, so
// those conditions surface under their own code rather than the boundary's
// generic failure code.
func WrapContext(fallback Code, cause error, message string) *Error {
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		return Wrap(Timeout, cause, message)
	case errors.Is(cause, context.Canceled):
		return Wrap(Cancelled, cause, message)
	default:
		return Wrap(fallback, cause, message)
	}
}

// WithDetails returns a copy of e with Details set. Useful for fluent
// construction: harborerr.New(harborerr.RateLimited, "...").WithDetails(...).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error, otherwise
// returns Internal. Useful at a boundary that must always emit a stable code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err is a *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
