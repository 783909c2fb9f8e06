// Package taxonomy defines the closed set of error kinds every engine
// translates its transport-level failures into at its boundary.
package taxonomy

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories surfaced to callers.
type Kind string

const (
	AuthFailed       Kind = "AuthFailed"
	HostkeyUnknown   Kind = "HostkeyUnknown"
	HostkeyChanged   Kind = "HostkeyChanged"
	PermissionDenied Kind = "PermissionDenied"
	PathNotFound     Kind = "PathNotFound"
	NetworkTimeout   Kind = "NetworkTimeout"
	RemoteDisconnect Kind = "RemoteDisconnect"
	ValidationFailed Kind = "ValidationFailed"
	TransferFailed   Kind = "TransferFailed"
	UnknownError     Kind = "UnknownError"
)

// Error is the structured error type carried by every taxonomy failure.
// It composes with the standard errors package via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a taxonomy error that preserves an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	_ = te
	return false
}

// interrupted is a sentinel distinct from the taxonomy proper: it signals
// cooperative cancellation, not a transport failure, and the scheduler
// translates it into canceled or paused depending on which control flag
// triggered it (spec.md §4.6/§7).
type interrupted struct{}

func (interrupted) Error() string { return "interrupted" }

// ErrInterrupted is raised by engines when checkInterrupt reports true.
var ErrInterrupted error = interrupted{}

// IsInterrupted reports whether err is (or wraps) ErrInterrupted.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
