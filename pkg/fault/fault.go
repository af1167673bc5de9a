package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for API mapping and retry decisions.
type Kind uint8

const (
	// KindUnknown is an unclassified internal failure.
	KindUnknown Kind = iota

	// KindValidation is a command that violates a capability envelope,
	// is missing a required field, or names an unknown station or meter.
	KindValidation

	// KindTransport is a network or protocol failure; retryable.
	KindTransport

	// KindCircuitOpen is a call rejected because the breaker is open.
	KindCircuitOpen

	// KindNotDiscovered is a station command issued before capability discovery.
	KindNotDiscovered

	// KindStateConflict is a command invalid for the station's current status.
	KindStateConflict

	// KindConstraint is a breached site envelope; recorded, never fatal.
	KindConstraint

	// KindTimeout is an expired per-call deadline; aborts retry loops.
	KindTimeout

	// KindFatal is an unrecoverable failure that initiates shutdown.
	KindFatal
)

// String returns the taxonomy code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindCircuitOpen:
		return "circuit_open"
	case KindNotDiscovered:
		return "not_discovered"
	case KindStateConflict:
		return "state_conflict"
	case KindConstraint:
		return "constraint"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTransport
}

// Error is a classified error. It wraps an optional cause.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Msg is the human-readable message.
	Msg string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain.
// Returns KindUnknown for nil or unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error may be retried.
// Unclassified errors are treated as retryable transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind.Retryable()
	}
	return true
}
