// Package apperr defines the error kinds the marketplace engines return to
// the HTTP layer. Every kind except Internal is an expected condition the
// caller can act on; Internal wraps storage faults whose detail must never
// reach a response body.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAuthorization
	KindInvalidState
	KindConflict
	KindCooldown
	KindExpired
	KindAlreadyUsed
	KindAttemptsExceeded
	KindInvalidSecret
	KindValidation
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindNotFound:         "not_found",
	KindAuthorization:    "authorization",
	KindInvalidState:     "invalid_state",
	KindConflict:         "conflict",
	KindCooldown:         "cooldown",
	KindExpired:          "expired",
	KindAlreadyUsed:      "already_used",
	KindAttemptsExceeded: "attempts_exceeded",
	KindInvalidSecret:    "invalid_secret",
	KindValidation:       "validation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Message is safe to show to a caller.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // only set for KindCooldown
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAuthorization    = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrInvalidState     = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrCooldown         = &Error{Kind: KindCooldown, Message: "cooldown"}
	ErrExpired          = &Error{Kind: KindExpired, Message: "expired"}
	ErrAlreadyUsed      = &Error{Kind: KindAlreadyUsed, Message: "already used"}
	ErrAttemptsExceeded = &Error{Kind: KindAttemptsExceeded, Message: "attempts exceeded"}
	ErrInvalidSecret    = &Error{Kind: KindInvalidSecret, Message: "invalid secret"}
	ErrValidation       = &Error{Kind: KindValidation, Message: "validation"}
)

func NotFound(msg string) *Error         { return &Error{Kind: KindNotFound, Message: msg} }
func Authorization(msg string) *Error    { return &Error{Kind: KindAuthorization, Message: msg} }
func InvalidState(msg string) *Error     { return &Error{Kind: KindInvalidState, Message: msg} }
func Conflict(msg string) *Error         { return &Error{Kind: KindConflict, Message: msg} }
func Expired(msg string) *Error          { return &Error{Kind: KindExpired, Message: msg} }
func AlreadyUsed(msg string) *Error      { return &Error{Kind: KindAlreadyUsed, Message: msg} }
func AttemptsExceeded(msg string) *Error { return &Error{Kind: KindAttemptsExceeded, Message: msg} }
func InvalidSecret(msg string) *Error    { return &Error{Kind: KindInvalidSecret, Message: msg} }
func Validation(msg string) *Error       { return &Error{Kind: KindValidation, Message: msg} }

// Cooldown reports a rate limit with the time left before a retry can succeed.
func Cooldown(retryAfter time.Duration) *Error {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	return &Error{
		Kind:       KindCooldown,
		Message:    fmt.Sprintf("please wait %ds before requesting a new code", secs),
		RetryAfter: retryAfter,
	}
}

// Internal wraps an unexpected fault. The message never includes err.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
