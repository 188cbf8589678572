// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure of the device authorization flow.
type ErrorKind string

const (
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindAuthorizationDenied ErrorKind = "authorization_denied"
	KindRateLimited         ErrorKind = "rate_limited"
	KindTimeout             ErrorKind = "timeout"
	KindInvalidCredential   ErrorKind = "invalid_credential"
	KindTransportError      ErrorKind = "transport_error"
)

// Sentinels for each kind. Callers can check for them using errors.Is on any
// error returned by the auth packages.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrRateLimited         = errors.New("rate limited by provider")
	ErrTimeout             = errors.New("authorization timed out")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrTransport           = errors.New("transport error")
)

var sentinels = map[ErrorKind]error{
	KindProviderUnavailable: ErrProviderUnavailable,
	KindAuthorizationDenied: ErrAuthorizationDenied,
	KindRateLimited:         ErrRateLimited,
	KindTimeout:             ErrTimeout,
	KindInvalidCredential:   ErrInvalidCredential,
	KindTransportError:      ErrTransport,
}

// AuthError is the single error type produced by the device flow.
// Status and Body are set when the provider answered with an HTTP error.
type AuthError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

// NewAuthError builds an AuthError of the given kind wrapping err (may be nil).
func NewAuthError(kind ErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

func (e *AuthError) Error() string {
	msg := sentinels[e.Kind].Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return msg
}

// Is matches the sentinel of the error's kind.
func (e *AuthError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or "" when err is not an AuthError.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// UserMessage renders err for display. Rate limiting gets an explicit
// wait-before-retry hint.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindRateLimited:
		return "GitHub is rate limiting sign-in requests. Wait a few minutes before trying again."
	case KindTimeout:
		return "Authorization timed out. Start the sign-in again to get a new code."
	case KindAuthorizationDenied:
		return "Authorization was denied or the code expired."
	case KindInvalidCredential:
		return "The stored GitHub token is no longer valid. Sign in again."
	case KindProviderUnavailable:
		return fmt.Sprintf("Could not reach GitHub: %v", err)
	case KindTransportError:
		return fmt.Sprintf("Network error while waiting for authorization: %v", err)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
