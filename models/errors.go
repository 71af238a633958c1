package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether a failure is
// local to one item or fatal for the whole run.
type ErrorKind string

const (
	TransientNetworkFailure ErrorKind = "transient_network_failure"
	InvalidContent          ErrorKind = "invalid_content"
	DecodeFailure           ErrorKind = "decode_failure"
	UpstreamModelFailure    ErrorKind = "upstream_model_failure"
	ConfigurationError      ErrorKind = "configuration_error"
)

// ErrNoReferences is returned when a request carries no references at all.
var ErrNoReferences = errors.New("no references supplied")

// Error is a classified failure tied to an operation and, when known, to the
// reference being processed.
type Error struct {
	Kind ErrorKind
	Op   string
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Ref != "" {
		msg += " [" + e.Ref + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, ref string, err error) *Error {
	return &Error{Kind: kind, Op: op, Ref: ref, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, ref, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Ref: ref, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
