// Package fault defines the error taxonomy the core surfaces to callers.
// Controllers map kinds to status codes; the core never exposes raw driver
// errors across its boundary.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is the zero value; wrapped errors without a kind report it.
	KindUnknown Kind = iota
	// KindNotFound: session/token/role/credential absent. Not retryable.
	KindNotFound
	// KindInvalidState: a forbidden lifecycle transition, e.g. verifying a
	// completed MFA session or redeeming an already-used token.
	KindInvalidState
	// KindAuthFailure: wrong code, secret, or credential. Never retryable.
	KindAuthFailure
	// KindTamperDetected: AEAD tag mismatch on decrypt. Always fail-closed;
	// never downgraded to a generic failure.
	KindTamperDetected
	// KindConflict: uniqueness violation such as a duplicate role name.
	KindConflict
	// KindTransient: storage connectivity trouble; callers may retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindAuthFailure:
		return "auth_failure"
	case KindTamperDetected:
		return "tamper_detected"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error carries a kind plus the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets sentinel comparisons match on kind equality, so
// errors.Is(err, fault.NotFound("")) style checks are unnecessary; use
// KindOf instead.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(msg string) error       { return New(KindNotFound, msg) }
func InvalidState(msg string) error   { return New(KindInvalidState, msg) }
func AuthFailure(msg string) error    { return New(KindAuthFailure, msg) }
func TamperDetected(msg string) error { return New(KindTamperDetected, msg) }
func Conflict(msg string) error       { return New(KindConflict, msg) }
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// KindOf extracts the kind from anywhere in the wrap chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a caller should retry the failed operation.
// Only transient storage trouble qualifies.
func Retryable(err error) bool {
	return IsKind(err, KindTransient)
}
