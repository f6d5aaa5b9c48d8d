// Package errdefs defines the error taxonomy shared across OpenViking.
//
// Every failure surfaced to callers is an *Error carrying a Kind, the URI it
// relates to (when applicable), and the underlying cause. Components decide
// retry behavior from the Kind alone.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// KindInvalidInput covers URI syntax errors, unsupported formats, and
	// inputs still oversized after chunking.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound means the URI is absent from AGFS or the vector index.
	KindNotFound Kind = "not_found"

	// KindConflict covers mv destination collisions and concurrent writers.
	KindConflict Kind = "conflict"

	// KindTransientBackend covers network errors, 429s, 5xx and timeouts.
	// Retried per policy.
	KindTransientBackend Kind = "transient_backend"

	// KindFatalBackend covers non-retryable upstream errors.
	KindFatalBackend Kind = "fatal_backend"

	// KindConsistencyDrift means the index and AGFS disagree about a URI.
	// Triggers reconciliation.
	KindConsistencyDrift Kind = "consistency_drift"
)

// Error is the structured error surfaced by OpenViking operations.
type Error struct {
	Kind  Kind
	URI   string
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.URI != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URI, e.Cause)
	case e.URI != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.URI)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errdefs errors by Kind, so errors.Is(err, NotFound("x")) style
// sentinels work without comparing causes. A target with an empty URI
// matches any URI.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.URI == "" || t.URI == e.URI)
}

// New builds an error of the given kind.
func New(kind Kind, uri string, cause error) *Error {
	return &Error{Kind: kind, URI: uri, Cause: cause}
}

func InvalidInput(uri string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, URI: uri, Cause: cause}
}

func NotFound(uri string) *Error {
	return &Error{Kind: KindNotFound, URI: uri}
}

func Conflict(uri string, cause error) *Error {
	return &Error{Kind: KindConflict, URI: uri, Cause: cause}
}

func Transient(cause error) *Error {
	return &Error{Kind: KindTransientBackend, Cause: cause}
}

func Fatal(cause error) *Error {
	return &Error{Kind: KindFatalBackend, Cause: cause}
}

func Drift(uri string, cause error) *Error {
	return &Error{Kind: KindConsistencyDrift, URI: uri, Cause: cause}
}

// KindOf returns the Kind of err, or KindFatalBackend for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatalBackend
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

// IsTransient reports whether err should be retried per the backoff policy.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientBackend
}

func IsDrift(err error) bool {
	return KindOf(err) == KindConsistencyDrift
}
