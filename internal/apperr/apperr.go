// Package apperr defines the error taxonomy shared by the ledger, the
// transfer engine and the HTTP transport. Every error surfaced to a caller
// carries a stable Kind and a human-readable message; wrapped causes are kept
// for logging and never rendered.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error class.
type Kind string

const (
	KindInvalidRequest        Kind = "invalid_request"
	KindInvalidAmount         Kind = "invalid_amount"
	KindSelfTransferForbidden Kind = "self_transfer_forbidden"
	KindPartyNotFound         Kind = "party_not_found"
	KindWrongRole             Kind = "wrong_role"
	KindPartyNotActive        Kind = "party_not_active"
	KindWalletNotFound        Kind = "wallet_not_found"
	KindWalletNotActive       Kind = "wallet_not_active"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindStoreConflict         Kind = "store_conflict"
	KindStoreUnavailable      Kind = "store_unavailable"
	KindTimeout               Kind = "timeout"
	KindUnauthorized          Kind = "unauthorized"
	KindForbidden             Kind = "forbidden"
	KindDuplicate             Kind = "duplicate"
	KindNotFound              Kind = "not_found"
)

// Error is a typed failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can compare against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of kind k.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Newf is New with formatting.
func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of kind k.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindStoreUnavailable for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidRequest        = New(KindInvalidRequest, "invalid request")
	ErrInvalidAmount         = New(KindInvalidAmount, "invalid amount")
	ErrSelfTransferForbidden = New(KindSelfTransferForbidden, "self transfer forbidden")
	ErrPartyNotFound         = New(KindPartyNotFound, "party not found")
	ErrWrongRole             = New(KindWrongRole, "wrong role")
	ErrPartyNotActive        = New(KindPartyNotActive, "party not active")
	ErrWalletNotFound        = New(KindWalletNotFound, "wallet not found")
	ErrWalletNotActive       = New(KindWalletNotActive, "wallet not active")
	ErrInsufficientFunds     = New(KindInsufficientFunds, "insufficient funds")
	ErrStoreUnavailable      = New(KindStoreUnavailable, "store unavailable")
	ErrTimeout               = New(KindTimeout, "timeout")
	ErrUnauthorized          = New(KindUnauthorized, "unauthorized")
	ErrForbidden             = New(KindForbidden, "forbidden")
	ErrDuplicate             = New(KindDuplicate, "duplicate")
	ErrNotFound              = New(KindNotFound, "not found")
)
