package tx

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a lifecycle failure. Every stage of the pipeline fails closed with one of these kinds so the
// caller can decide whether to retry, surface guidance to the user or abort.
type Kind string

// Failure kinds.
const (
	AccountNotFound    Kind = "account_not_found"    // signer address unknown to the chain
	SequenceMismatch   Kind = "sequence_mismatch"    // stale sequence, re-resolve account and rebuild
	InvalidAmount      Kind = "invalid_amount"       // caller bug, fatal
	WalletUnavailable  Kind = "wallet_unavailable"   // signing capability absent or locked, user-actionable
	UserRejected       Kind = "user_rejected"        // user declined to sign, terminal for this attempt
	SigningFailed      Kind = "signing_failed"       // wallet failed for another reason
	UnsupportedMsgType Kind = "unsupported_msg_type" // protocol version mismatch, fatal
	BroadcastRejected  Kind = "broadcast_rejected"   // node rejected the transaction, raw diagnostics attached
	NetworkError       Kind = "network_error"        // transient transport failure
	PollTimeout        Kind = "poll_timeout"         // retry budget exhausted, chain status unknown rather than negative
)

// Error is a classified lifecycle error. It enriches the underlying cause with the failure kind, the address or
// transaction identifier involved and the time of failure; the original cause is wrapped, never swallowed.
type Error struct {
	Kind Kind
	Ref  string // address or transaction identifier involved
	At   time.Time
	Err  error // underlying cause
}

// E builds a classified Error around cause, stamping it with the current time.
func E(kind Kind, ref string, cause error) *Error {
	return &Error{Kind: kind, Ref: ref, At: time.Now().UTC(), Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s [%s]", e.Kind, e.Ref)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Ref, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or the empty Kind when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the failure may be retried by the caller. SequenceMismatch requires re-resolving the
// account and rebuilding first; SigningFailed and NetworkError are transient. UserRejected and WalletUnavailable
// are never retryable: the former was a deliberate user choice, the latter needs external action first.
func Retryable(err error) bool {
	switch KindOf(err) {
	case SequenceMismatch, SigningFailed, NetworkError:
		return true
	}
	return false
}
