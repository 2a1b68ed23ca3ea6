// Package errs enumerates the error kinds the host core distinguishes,
// so that control-protocol ack envelopes and invocation replies can
// report a stable, comparable kind alongside a human-readable message.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the host core distinguishes.
type Kind string

const (
	KindConfiguration     Kind = "Configuration"
	KindAuthorization     Kind = "Authorization"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindBusUnavailable    Kind = "BusUnavailable"
	KindTimeout           Kind = "Timeout"
	KindGuestError        Kind = "GuestError"
	KindHostError         Kind = "HostError"
	KindExecutionTrap     Kind = "ExecutionTrap"
	KindProviderStartup   Kind = "ProviderStartupFailed"
	KindProviderCrashed   Kind = "ProviderCrashed"
	KindDataCorruption    Kind = "DataCorruption"
	KindCapabilityDenied  Kind = "CapabilityDenied"
	KindUnauthorizedOrUnbound Kind = "UnauthorizedOrUnbound"
	KindOverloaded        Kind = "Overloaded"
	KindNotRouted         Kind = "NotRouted"
	KindUnchanged         Kind = "Unchanged"
)

// Error wraps an underlying cause with a stable Kind so callers can branch
// on errors.Is/As at a control-protocol or invocation boundary while still
// getting a human-readable message for logs.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, errs.New(KindNotFound, "")) match on Kind alone,
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is nil or not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Conflict(message string) *Error         { return New(KindConflict, message) }
func Timeout(message string) *Error          { return New(KindTimeout, message) }
func CapabilityDenied(message string) *Error { return New(KindCapabilityDenied, message) }
func Overloaded(message string) *Error       { return New(KindOverloaded, message) }
func NotRouted(message string) *Error        { return New(KindNotRouted, message) }
func DataCorruption(message string) *Error   { return New(KindDataCorruption, message) }
