// services/errors.go
package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes a lifecycle transition can
// surface. The transport layer maps each kind to an HTTP status; nothing in
// the engine returns an untyped error to a caller.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation_error"
	KindNotFound               ErrorKind = "not_found"
	KindUnknownIdentity        ErrorKind = "unknown_identity"
	KindPaymentMismatch        ErrorKind = "payment_mismatch"
	KindTransactionNotFinal    ErrorKind = "transaction_not_finalized"
	KindTransactionFailed      ErrorKind = "transaction_failed"
	KindOutcomeUnavailable     ErrorKind = "outcome_unavailable"
	KindMatchNotConcluded      ErrorKind = "match_not_concluded"
	KindWinnerUnresolved       ErrorKind = "winner_address_unresolved"
	KindIllegalTransition      ErrorKind = "illegal_transition"
	KindAlreadyCompleted       ErrorKind = "already_completed"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindStorage                ErrorKind = "storage_error"
	KindLedger                 ErrorKind = "ledger_error"
)

// EscrowError carries a kind plus a human-readable message and, optionally,
// the underlying cause. Every error that crosses a service boundary is one
// of these.
type EscrowError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EscrowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EscrowError) Unwrap() error { return e.Err }

// Errf builds an EscrowError with a formatted message.
func Errf(kind ErrorKind, format string, args ...interface{}) *EscrowError {
	return &EscrowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds an EscrowError around an underlying cause.
func WrapErr(kind ErrorKind, err error, message string) *EscrowError {
	return &EscrowError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from any error, returning KindStorage for errors
// that did not originate in the taxonomy (the conservative default for
// surprises coming out of collaborators).
func KindOf(err error) ErrorKind {
	var ee *EscrowError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
