// Package werr defines the closed set of error kinds the core surfaces
// to front-ends, per the error handling design.
package werr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds core operations may return.
type Kind string

const (
	NotFound         Kind = "not_found"
	DuplicateID      Kind = "duplicate_id"
	DuplicateUID     Kind = "duplicate_uid"
	ParseError       Kind = "parse_error"
	InvalidTransition Kind = "invalid_transition"
	Leased           Kind = "leased"
	NotOwner         Kind = "not_owner"
	CycleDetected    Kind = "cycle_detected"
	DanglingReference Kind = "dangling_reference"
	ProjectionDrift  Kind = "projection_drift"
	IOError          Kind = "io_error"
	ConfigError      Kind = "config_error"
	ConcurrencyError Kind = "concurrency_error"
	AmbiguousReference Kind = "ambiguous_reference"
)

// Error is the single error type used across the core. Every operation
// that can fail returns one of these (or wraps one), so callers can
// switch on Kind without type-asserting into per-package error types.
type Error struct {
	Kind    Kind
	Message string
	TaskID  string
	UID     string
	Path    string
	Line    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.TaskID != "" {
		msg = fmt.Sprintf("%s (task %s)", msg, e.TaskID)
	}
	if e.Path != "" {
		if e.Line > 0 {
			msg = fmt.Sprintf("%s [%s:%d]", msg, e.Path, e.Line)
		} else {
			msg = fmt.Sprintf("%s [%s]", msg, e.Path)
		}
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
