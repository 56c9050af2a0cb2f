// Package provider classifies external provider failures so the
// orchestrator can decide between retry and terminal failure instead of
// logging and continuing.
package provider

import (
	"errors"
	"fmt"
)

// Error wraps a failure from an external provider call. Transient errors
// (network, 5xx, rate limits) are retried with backoff; permanent errors
// (domain gone, malformed input, price changed) move the order to failed
// immediately.
type Error struct {
	Op        string // e.g. "registrar.purchase", "cloudflare.ensure_zone"
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure.
func Transient(op string, err error) *Error {
	return &Error{Op: op, Transient: true, Err: err}
}

// Permanent wraps err as a terminal provider failure.
func Permanent(op string, err error) *Error {
	return &Error{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable provider failure.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
