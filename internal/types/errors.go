package types

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies an error for propagation and response mapping.
type Kind string

const (
	KindValidation   Kind = "validation"   // bad caller input, lists all offending fields
	KindNotFound     Kind = "not_found"    // target missing or soft-deleted
	KindConflict     Kind = "conflict"     // precondition on the row violated (e.g. double delete)
	KindPrecondition Kind = "precondition" // session prerequisite missing (no current project)
	KindCapacity     Kind = "capacity"     // pool or backpressure limit hit, retryable
	KindTransient    Kind = "transient"    // upstream I/O failure, retried internally
	KindFatal        Kind = "fatal"        // invariant violated, generic 500 to the caller
)

// FieldError names one offending field in a validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the structured error carried across package boundaries.
// It wraps an underlying cause when one exists.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(parts, "; "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Field returns the first offending field name, or "".
func (e *Error) Field() string {
	if len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0].Field
}

// Code maps the kind to the tool-protocol error code.
func (e *Error) Code() int {
	switch e.Kind {
	case KindValidation, KindPrecondition:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	default:
		return 500
	}
}

// Retryable reports whether the caller may usefully retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindCapacity || e.Kind == KindTransient
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewValidation builds a validation error listing every offending field.
func NewValidation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "invalid request", Fields: fields}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Preconditionf builds a precondition error for the named field.
func Preconditionf(field, format string, args ...interface{}) *Error {
	e := &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
	if field != "" {
		e.Fields = []FieldError{{Field: field, Message: e.Message}}
	}
	return e
}

// Capacityf builds a capacity error wrapping the pool failure.
func Capacityf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindCapacity, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Transientf builds a transient error wrapping the upstream failure.
func Transientf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Fatalf builds a fatal error wrapping the invariant violation.
func Fatalf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// =============================================================================
// INSPECTION
// =============================================================================

// KindOf extracts the kind from any error. Unclassified errors are fatal:
// they indicate a path that failed without declaring its contract.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// AsError returns the structured error inside err, wrapping unclassified
// errors as fatal so callers always get a code and a safe message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindFatal, Message: "internal error", cause: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
