// Package errkind defines the error taxonomy shared by the pipeline stages.
//
// The structurer, validator and cache never stop the pipeline. They return a
// usable fallback value and report what went wrong as an *Error whose Kind
// tells the caller which degradation policy was applied.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline resolves it.
type Kind int

const (
	// Unknown is the zero kind, reported for errors outside the taxonomy.
	Unknown Kind = iota

	// MalformedInput means recognition or invoice data was missing its expected
	// shape. Resolved by defaulting fields.
	MalformedInput

	// BackendUnavailable means the cache store could not be reached. Resolved by
	// disabling caching.
	BackendUnavailable

	// UnrepresentableInput means there was nothing extractable. Resolved by
	// returning empty structured text.
	UnrepresentableInput

	// Internal means a fault was recovered inside a component and its fallback
	// value was returned instead.
	Internal
)

func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed_input"
	case BackendUnavailable:
		return "backend_unavailable"
	case UnrepresentableInput:
		return "unrepresentable_input"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind, usable with errors.Is.
var (
	ErrMalformedInput       = errors.New("malformed input")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrUnrepresentableInput = errors.New("nothing extractable")
	ErrInternal             = errors.New("internal fault")
)

func sentinel(k Kind) error {
	switch k {
	case MalformedInput:
		return ErrMalformedInput
	case BackendUnavailable:
		return ErrBackendUnavailable
	case UnrepresentableInput:
		return ErrUnrepresentableInput
	case Internal:
		return ErrInternal
	default:
		return nil
	}
}

// Error carries a Kind together with the failed operation.
type Error struct {
	Kind Kind

	// Op is the operation that degraded (e.g., "Structure", "cache.Get").
	Op string

	// Err is the underlying error. May be nil when the kind says it all.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind's sentinel as well as the wrapped error.
func (e *Error) Is(target error) bool {
	if s := sentinel(e.Kind); s != nil && target == s {
		return true
	}
	return false
}

// New creates an *Error of the given kind.
func New(kind Kind, op string, err error, details string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Details: details}
}

// Wrap wraps err as an *Error of the given kind unless it already is one.
func Wrap(kind Kind, op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return New(kind, op, err, details)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Unknown
}
