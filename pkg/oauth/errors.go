package oauth

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures of the authorization flow.
type ErrorKind int

const (
	// KindConfiguration covers setups that cannot proceed: no registration
	// endpoint and no static client, or the callback port cannot be bound.
	KindConfiguration ErrorKind = iota + 1
	// KindDiscovery covers metadata fetch and parse failures.
	KindDiscovery
	// KindRegistration covers the registration endpoint rejecting the client.
	KindRegistration
	// KindRedirect covers consent denial and authorization errors in the redirect.
	KindRedirect
	// KindTimeout covers no redirect within the wait bound.
	KindTimeout
	// KindExchange covers the token endpoint rejecting a code or refresh token.
	KindExchange
	// KindStorage covers persistence failures.
	KindStorage
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDiscovery:
		return "discovery"
	case KindRegistration:
		return "registration"
	case KindRedirect:
		return "redirect"
	case KindTimeout:
		return "timeout"
	case KindExchange:
		return "exchange"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrDiscovery     = &Error{Kind: KindDiscovery}
	ErrRegistration  = &Error{Kind: KindRegistration}
	ErrRedirect      = &Error{Kind: KindRedirect}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrExchange      = &Error{Kind: KindExchange}
	ErrStorage       = &Error{Kind: KindStorage}
)

// Error is a classified flow failure.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Op names the failed operation, e.g. "discover" or "exchange code".
	Op string

	// Code carries the OAuth error code when the server supplied one
	// (e.g. "access_denied", "invalid_grant").
	Code string

	// Description is the server supplied error_description, if any.
	Description string

	// Err is the underlying cause.
	Err error
}

// NewError creates a classified error wrapping err.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("oauth ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
		if e.Description != "" {
			b.WriteString(" - ")
			b.WriteString(e.Description)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
