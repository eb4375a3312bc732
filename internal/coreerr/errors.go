// Package coreerr defines the closed error taxonomy at the core boundary
//. Every error the core returns to a caller is one of these kinds,
// wrapped with context via fmt.Errorf("...: %w", err).
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error code.
type Kind string

const (
	NotFound                     Kind = "NOT_FOUND"
	Conflict                     Kind = "CONFLICT"
	InvariantViolation           Kind = "INVARIANT_VIOLATION"
	Serialization                Kind = "SERIALIZATION"
	Backend                      Kind = "BACKEND"
	InvalidInput                 Kind = "INVALID_INPUT"
	CommitmentMissing            Kind = "COMMITMENT_MISSING"
	CommitmentCapabilityMismatch Kind = "COMMITMENT_CAPABILITY_MISMATCH"
	PolicyDenied                 Kind = "POLICY_DENIED"
	CapabilityDenied             Kind = "CAPABILITY_DENIED"
	ToolFailure                  Kind = "TOOL_FAILURE"
	ReceiptWriteFailure          Kind = "RECEIPT_WRITE_FAILURE"
	ApprovalRequired             Kind = "APPROVAL_REQUIRED"
	RiskDenied                   Kind = "RISK_DENIED"
	HybridRequired               Kind = "HYBRID_REQUIRED"
	ConnectorFailure             Kind = "CONNECTOR_FAILURE"
	Closed                       Kind = "CLOSED"
)

// Error is the concrete error type carried across the core boundary.
type Error struct {
	Kind Kind
	// Fields carries kind-specific structured detail, e.g. for
	// CommitmentCapabilityMismatch: {capability, commitment_id, reason}.
	Fields map[string]string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a bare Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithField attaches a structured field and returns the same error.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// CapabilityMismatch builds the §4.4 CommitmentCapabilityMismatch error.
func CapabilityMismatch(commitmentID, capability, reason string) *Error {
	return New(CommitmentCapabilityMismatch, reason).
		WithField("commitment_id", commitmentID).
		WithField("capability", capability).
		WithField("reason", reason)
}

// ConnectorFail builds the §7 ConnectorFailure error.
func ConnectorFail(connector, message string) *Error {
	return New(ConnectorFailure, message).WithField("connector", connector)
}
