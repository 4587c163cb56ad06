// Package errs defines the shared error taxonomy used by the message pool
// selection engine and the payment-channel manager.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies an Error so callers can branch on failure mode without
// string-matching messages.
type Kind string

const (
	ChainRead            Kind = "chain_read"
	ChannelNotTracked    Kind = "channel_not_tracked"
	ChannelMismatch      Kind = "channel_mismatch"
	SignatureInvalid     Kind = "signature_invalid"
	NonceTooLow          Kind = "nonce_too_low"
	AmountRegression     Kind = "amount_regression"
	InsufficientFunds    Kind = "insufficient_funds"
	MergesUnsupported    Kind = "merges_unsupported"
	VoucherAlreadySubmitted Kind = "voucher_already_submitted"
	DeltaTooLow          Kind = "delta_too_low"
	HeaviestTipsetMissing Kind = "heaviest_tipset_missing"
	StoreIO              Kind = "store_io"
	Encoding             Kind = "encoding"
	Other                 Kind = "other"
)

// Error is the concrete error type returned across package boundaries in
// this module. It always carries a Kind so callers can use errors.Is
// against the Sentinel value for that kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.Sentinel(Kind)) work against a constructed
// Error without caring about Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return false
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a causing error, using
// xerrors so %w-style unwrapping keeps working through this layer.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Msg: msg, Err: xerrors.Errorf("%s: %w", msg, cause)}
}

// Sentinel returns a bare Error carrying only a Kind, suitable for use with
// errors.Is to test the kind of an arbitrary error produced by this module.
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and Other
// otherwise.
func Of(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return Other
}
