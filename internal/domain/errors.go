// Package domain defines core types, interfaces, and errors for the indicator client.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates that no usable dataflow served the requested data,
// or that a catalog entry does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates a malformed query, raised before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RetrievalError indicates the data endpoint could not be reached reliably:
// transient failures exhausted their retries on the final chain entry, or the
// chain was abandoned before every entry could be attempted.
type RetrievalError struct {
	Indicator string
	Attempts  []Attempt
	Err       error
}

func (e *RetrievalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "retrieve %s", e.Indicator)
	if n := len(e.Attempts); n > 0 {
		fmt.Fprintf(&b, " (last dataflow %s after %d attempt(s))", e.Attempts[n-1].Dataflow, n)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SyncError indicates a metadata refresh could not complete. The previously
// active snapshot remains authoritative.
type SyncError struct {
	Stage string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("metadata sync failed at %s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrSync wraps err as a SyncError for the given stage.
func ErrSync(stage string, err error) *SyncError {
	return &SyncError{Stage: stage, Err: err}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetrieval reports whether err is (or wraps) a RetrievalError.
func IsRetrieval(err error) bool {
	var r *RetrievalError
	return errors.As(err, &r)
}

// IsTransient reports whether err may succeed on retry: errors that declare
// themselves transient, and per-attempt deadline expiry.
func IsTransient(err error) bool {
	var t TransientError
	if errors.As(err, &t) {
		return t.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
