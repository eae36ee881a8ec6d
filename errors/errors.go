// Package errors defines the failure taxonomy shared by the ESIA client
// packages. It re-exports the helpers of the standard errors package so it
// can be imported in its place.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Failure kinds. Every error produced by this module matches exactly one of
// them through errors.Is.
var (
	ErrConfiguration    = stderrors.New("configuration error")
	ErrSignFailure      = stderrors.New("sign failure")
	ErrRandomGeneration = stderrors.New("random generation failure")
	ErrForbidden        = stderrors.New("forbidden")
	ErrRequestFailed    = stderrors.New("request failed")
)

// Error carries a failure kind together with a human readable message and
// the underlying cause, if any.
type Error struct {
	Kind       error
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
// When the cause is itself an *Error only its cause is exposed, so a wrapped
// error keeps a single kind.
func (e *Error) Unwrap() []error {
	cause := e.Cause
	for {
		inner, ok := cause.(*Error)
		if !ok || inner == nil {
			break
		}
		cause = inner.Cause
	}
	if cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, cause}
}

// NewConfigurationError reports missing or invalid configuration.
func NewConfigurationError(message string, cause error) *Error {
	return &Error{Kind: ErrConfiguration, Message: message, Cause: cause}
}

// NewSignFailure reports a signing backend failure.
func NewSignFailure(message string, cause error) *Error {
	return &Error{Kind: ErrSignFailure, Message: message, Cause: cause}
}

// NewRandomGenerationFailure reports that the random source could not be read.
func NewRandomGenerationFailure(cause error) *Error {
	return &Error{Kind: ErrRandomGeneration, Message: "cannot generate random state", Cause: cause}
}

// NewForbidden reports an HTTP 403 answer from the provider.
func NewForbidden(message string, cause error) *Error {
	return &Error{Kind: ErrForbidden, Message: message, StatusCode: 403, Cause: cause}
}

// NewRequestFailed reports a transport failure, an unexpected HTTP status or
// an undecodable body. statusCode is 0 when no response was received.
func NewRequestFailed(message string, statusCode int, cause error) *Error {
	return &Error{Kind: ErrRequestFailed, Message: message, StatusCode: statusCode, Cause: cause}
}

// StatusCode returns the HTTP status attached to err, or 0.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return stderrors.New(text) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }
