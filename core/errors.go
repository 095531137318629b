package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every caller-visible failure.
type ErrorKind string

const (
	// KindValidation reports malformed caller input. It is raised before any
	// invocation is tracked.
	KindValidation ErrorKind = "VALIDATION"
	// KindTimeout reports that the effective timeout elapsed first.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindCancelled reports an explicit Cancel or a caller context that
	// finished first.
	KindCancelled ErrorKind = "CANCELLED"
	// KindUnknown reports any other backend failure.
	KindUnknown ErrorKind = "UNKNOWN"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("invocation timed out")
	ErrCancelled  = errors.New("invocation cancelled")
	ErrUnknown    = errors.New("invocation failed")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrUnknown
	}
}

// Error is the normalized failure surfaced to callers. Once produced it is
// terminal: layers that receive an *Error pass it on unchanged.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// NewError constructs a normalized error of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NewValidationError constructs a KindValidation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original failure.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of a normalized error anywhere in err's chain. It
// returns the empty kind for nil and KindUnknown for errors that were never
// normalized.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PanicError carries a value recovered from a panicking backend.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (p *PanicError) Error() string {
	return fmt.Sprintf("backend panic: %s", fmt.Sprint(p.Value))
}
