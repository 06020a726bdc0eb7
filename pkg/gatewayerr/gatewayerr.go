// Package gatewayerr defines the gateway's six-member error taxonomy. Every
// HTTP handler and background task surfaces failures through this package
// instead of raw errors, so policy (retry, log severity, HTTP status) is
// decided once per Code rather than scattered per call site.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Code enumerates the error taxonomy from spec.md §7.
type Code string

const (
	// CodeAuth: bad signature, unregistered hotkey, role mismatch.
	// Surfaced as a client error; no retry; not logged as a transparency event.
	CodeAuth Code = "authentication_failure"

	// CodeTemporal: wrong phase, outside reveal window.
	// Surfaced; no retry.
	CodeTemporal Code = "temporal_violation"

	// CodeData: hash mismatch, malformed rejection_reason pairing, duplicate submission.
	// Surfaced; no state change.
	CodeData Code = "data_violation"

	// CodeTransient: chain timeout, store timeout, enclave socket timeout.
	// Retried with bounded attempts and exponential backoff.
	CodeTransient Code = "transient_upstream"

	// CodeInvariant: hash chain break, duplicate sequence number, unique-constraint
	// conflict on a fresh insert. Logged at critical severity; process continues.
	CodeInvariant Code = "invariant_violation"

	// CodeSystemic: disk full, key missing at boot. Fail-fast at startup;
	// during runtime the affected task enters a retry loop.
	CodeSystemic Code = "systemic"
)

// Error is the gateway's error envelope. It carries a taxonomy Code, a
// human-readable reason safe to show a client, and an optional wrapped
// cause kept internal (never serialized to the client payload).
type Error struct {
	Code   Code
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Wrap builds an *Error around cause, preserving it for logging/unwrapping
// while keeping reason as the only client-visible text.
func Wrap(code Code, reason string, cause error) *Error {
	return &Error{Code: code, Reason: reason, Cause: cause}
}

// Auth, Temporal, Data, Transient, Invariant, Systemic are constructors for
// each taxonomy member, used at call sites in place of fmt.Errorf.
func Auth(reason string) *Error      { return New(CodeAuth, reason) }
func Temporal(reason string) *Error  { return New(CodeTemporal, reason) }
func Data(reason string) *Error      { return New(CodeData, reason) }
func Transient(reason string, cause error) *Error {
	return Wrap(CodeTransient, reason, cause)
}
func Invariant(reason string, cause error) *Error {
	return Wrap(CodeInvariant, reason, cause)
}
func Systemic(reason string, cause error) *Error {
	return Wrap(CodeSystemic, reason, cause)
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *Error, reporting ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	return "", false
}

// HTTPStatus maps a Code to the status codes in spec.md §6.1. Data and
// Temporal violations both surface as 400; CodeInvariant has no dedicated
// client-facing status since it represents a server-side integrity fault
// rather than a malformed request, so it falls through to 500 with every
// other unlisted code; pkg/server's writeErr applies this mapping as is.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuth:
		return 403
	case CodeTemporal, CodeData:
		return 400
	case CodeTransient:
		return 504
	default:
		return 500
	}
}
