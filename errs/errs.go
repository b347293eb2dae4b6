// Package errs holds the tagged error kinds shared across flowrt's
// domain packages, following the shape of the teacher's
// executor.ExecutionError: a small set of sentinel Kind values a
// caller can match with errors.Is, wrapped with context via
// fmt.Errorf("...: %w", err) at each layer.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a domain error. Transport layers
// (httpapi) map Kind to a status code; callers match it with
// errors.Is(err, errs.FlowNotFound) etc.
type Kind string

const (
	FlowNotFound          Kind = "flow_not_found"
	FlowNotPublished      Kind = "flow_not_published"
	NodeNotFound          Kind = "node_not_found"
	FlowValidationError   Kind = "flow_validation_error"
	SessionNotFound       Kind = "session_not_found"
	RevisionConflict      Kind = "revision_conflict"
	InvalidInput          Kind = "invalid_input"
	IdempotencyInProgress Kind = "idempotency_in_progress"
	TaskDiscarded         Kind = "task_discarded"
	WebhookFailed         Kind = "webhook_failed"
	ApiCallFailed         Kind = "api_call_failed"
	Fatal                 Kind = "fatal"
)

// Error is a domain error tagged with a Kind. Two *Error values
// compare equal under errors.Is when their Kinds match, regardless of
// Message or wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by Kind only, so a caller can
// write errors.Is(err, errs.New(errs.RevisionConflict, "")) — or, more
// idiomatically, errors.Is(err, errs.RevisionConflict), which the Kind
// branch at the top of this method matches.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New builds a *Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given Kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is lets a bare Kind value be used directly as the target of
// errors.Is(err, errs.RevisionConflict): Kind implements error so it
// satisfies the comparable-target pattern used throughout the
// session/idempotency/engine packages.
func (k Kind) Error() string { return string(k) }

func (k Kind) Is(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf extracts the Kind of err, if any, reporting ok=false for
// errors that did not originate in this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
