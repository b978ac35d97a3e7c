package server

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies failures of the realtime core.
type Kind string

// Error kinds. The string values are sent to clients in messageError.code.
const (
	KindAuth                  Kind = "auth"
	KindValidation            Kind = "validation"
	KindUnknownUser           Kind = "unknown_user"
	KindDelivery              Kind = "delivery"
	KindPersistence           Kind = "persistence"
	KindRegistryInconsistency Kind = "registry_inconsistency"
	KindIdentityMismatch      Kind = "identity_mismatch"
	KindRateLimited           Kind = "rate_limited"
	KindBadRequest            Kind = "bad_request"
)

// Error is a classified failure. errors.Is matches any two errors of the same
// kind, so the sentinels below can be used as targets.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Sentinels for errors.Is.
var (
	ErrAuth                  = &Error{Kind: KindAuth}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrUnknownUser           = &Error{Kind: KindUnknownUser}
	ErrDelivery              = &Error{Kind: KindDelivery}
	ErrPersistence           = &Error{Kind: KindPersistence}
	ErrRegistryInconsistency = &Error{Kind: KindRegistryInconsistency}
	ErrIdentityMismatch      = &Error{Kind: KindIdentityMismatch}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrBadRequest            = &Error{Kind: KindBadRequest}
)

// Delivery failures for a single connection.
var (
	ErrConnectionClosed = newError(KindDelivery, "connection closed", nil)
	ErrSendBufferFull   = newError(KindDelivery, "send buffer full", nil)
)

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// reasonOf returns the client-facing reason for err. Wrapped backend details
// are not exposed.
func reasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "request failed"
}
