// Package apierr models the protocol's error taxonomy as a closed set of
// typed errors, each mapped to an HTTP status code and a wire "error-type"
// string (see SPEC_FULL.md §6/§7). This mirrors the teacher's own small,
// concrete error structs (cmd/errors.go) generalized into one family instead
// of an embedded base type, per the original's tagged-enum design.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind identifies one of the closed set of wire error types.
type Kind string

const (
	KindInternal          Kind = "internal-error"
	KindNotFound          Kind = "not-found"
	KindGeneric           Kind = "generic-error"
	KindWrongRepoState    Kind = "wrong-repo-state"
	KindWrongPublished    Kind = "wrong-published-state"
	KindInvalidToken      Kind = "invalid-token"
	KindTokenInsufficient Kind = "token-insufficient"
)

// Error is a wire-mappable API error.
type Error struct {
	Kind          Kind
	Message       string
	CurrentState  string // only set for KindWrongRepoState / KindWrongPublished
	ExpectedState string // only set for KindWrongRepoState / KindWrongPublished
}

func (e *Error) Error() string {
	if e.CurrentState != "" || e.ExpectedState != "" {
		return fmt.Sprintf("%s (current=%s, expected=%s): %s", e.Kind, e.CurrentState, e.ExpectedState, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusCode returns the HTTP status this error maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInternal:
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	case KindGeneric, KindWrongRepoState, KindWrongPublished:
		return http.StatusBadRequest
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindTokenInsufficient:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// JSON builds the wire body for this error, matching the {status,
// error-type, message, ...} shape of SPEC_FULL.md §6.
func (e *Error) JSON() map[string]interface{} {
	body := map[string]interface{}{
		"status":     e.StatusCode(),
		"error-type": string(e.Kind),
		"message":    e.Message,
	}
	if e.Kind == KindWrongRepoState || e.Kind == KindWrongPublished {
		body["current-state"] = e.CurrentState
		body["expected-state"] = e.ExpectedState
	}
	return body
}

// Internal wraps an infrastructure failure as a 500 InternalServerError.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// InternalMsg wraps a plain message as a 500 InternalServerError.
func InternalMsg(msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg}
}

// NotFound builds a 404.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Generic builds a 400 generic-error.
func Generic(msg string) *Error {
	return &Error{Kind: KindGeneric, Message: msg}
}

// WrongRepoState builds a 400 wrong-repo-state error, used when a branch's
// declared "from" revision doesn't match reality.
func WrongRepoState(msg, expected, current string) *Error {
	return &Error{Kind: KindWrongRepoState, Message: msg, ExpectedState: expected, CurrentState: current}
}

// WrongPublishedState builds a 400 wrong-published-state error. Reserved
// for a future "publish" phase this protocol does not currently have — see
// SPEC_FULL.md's Supplemented features note — but kept reachable so a
// caller extending the protocol has a matching error kind ready.
func WrongPublishedState(msg, expected, current string) *Error {
	return &Error{Kind: KindWrongPublished, Message: msg, ExpectedState: expected, CurrentState: current}
}

// InvalidToken builds a 401.
func InvalidToken(msg string) *Error {
	return &Error{Kind: KindInvalidToken, Message: msg}
}

// TokenInsufficient builds a 403.
func TokenInsufficient(msg string) *Error {
	return &Error{Kind: KindTokenInsufficient, Message: fmt.Sprintf("not enough permissions: %s", msg)}
}
