// Package apierr defines the error-kind taxonomy shared by every request
// handler (spec.md §7). Handlers return a *Error wrapping a Kind; the
// dispatcher maps Kind to the wire-level behavior (close connection vs.
// send a status response) without needing to know which module produced
// the error.
package apierr

import "fmt"

// Kind classifies a handler error by how the dispatcher must react to it.
type Kind int

const (
	// Protocol means the frame layer itself is broken; the dispatcher
	// closes the connection without a reply.
	Protocol Kind = iota
	// AuthRequired means an authenticated frame arrived before login.
	AuthRequired
	// CredentialFailure means login failed due to unknown user or
	// mismatched password.
	CredentialFailure
	// Conflict means a uniqueness or state invariant was violated.
	Conflict
	// NotFound means a referenced id does not exist.
	NotFound
	// Forbidden means the caller is not allowed to perform the action.
	Forbidden
	// SideEffectFailure means an external side effect (email) failed.
	SideEffectFailure
	// Transient means an unexpected internal error; the connection stays
	// open but the handler could not complete.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol_error"
	case AuthRequired:
		return "auth_required"
	case CredentialFailure:
		return "credential_failure"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case SideEffectFailure:
		return "side_effect_failure"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a handler-level error carrying a Kind, a machine-readable
// code used as the response "msg", and optional extra fields the
// handler wants echoed back to the client (e.g. current_group_id,
// need_password).
type Error struct {
	Kind  Kind
	Code  string
	Extra map[string]any
	err   error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Wrap builds an *Error wrapping cause, for Transient errors surfaced from
// lower layers (store, email) that the handler cannot recover from.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, err: cause}
}

// WithExtra attaches extra response fields and returns the same *Error for
// chaining at the call site.
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}
