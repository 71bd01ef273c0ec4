// Package apperrors defines the error kinds surfaced by the relayer's core
// components, independent of any HTTP status mapping (that translation lives
// in internal/api).
package apperrors

import "errors"

// Kind identifies the disposition a caller should give an error.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindSourceTxMissing Kind = "source_tx_missing"
	KindInsufficient    Kind = "insufficient_funds"
	KindRPC             Kind = "rpc_error"
	KindCannotPrime     Kind = "cannot_prime"
	KindInvalidRecovery Kind = "invalid_recovery_key"
	KindRecoveryUnavail Kind = "recovery_not_available"
	KindStatusConflict  Kind = "status_conflict"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// disposition without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
