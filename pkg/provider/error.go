package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for the pipeline's terminal outcome.
type ErrorKind string

const (
	// KindUnknownProvider means the requested backend is not registered.
	KindUnknownProvider ErrorKind = "unknown_provider"
	// KindUnavailable means the backend executable or credentials are missing.
	KindUnavailable ErrorKind = "provider_unavailable"
	// KindBuilderFailed means the backend ran and reported a build failure.
	KindBuilderFailed ErrorKind = "builder_failed"
	// KindReviewFailed means the backend ran and reported a review failure.
	KindReviewFailed ErrorKind = "review_failed"
	// KindProtocolError means the backend output could not be parsed into
	// the expected result shape.
	KindProtocolError ErrorKind = "protocol_error"
	// KindTimeout means the stage exceeded its allotted duration.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means the caller aborted the run.
	KindCancelled ErrorKind = "cancelled"
)

// Error wraps a backend failure with its kind and originating backend.
type Error struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError constructs a typed provider error.
func NewError(kind ErrorKind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// Errorf constructs a typed provider error from a format string.
func Errorf(kind ErrorKind, backend, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind, mapping context errors onto the
// timeout/cancel kinds and anything untyped onto fallback.
func KindOf(err error, fallback ErrorKind) ErrorKind {
	if err == nil {
		return fallback
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return fallback
}
