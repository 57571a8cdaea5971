// Package clienterr defines the shared error taxonomy for the purchase
// pipeline. Every asynchronous path in the client resolves to one of these
// kinds so callers can branch with errors.Is instead of string matching,
// and so the UI layer can map any failure to actionable text.
package clienterr

import (
	"errors"
	"fmt"
)

var (
	// ErrWalletNotInstalled: no wallet provider responded to capability probing.
	ErrWalletNotInstalled = errors.New("wallet not installed")

	// ErrWalletUserRejected: the user declined the request in the wallet prompt.
	ErrWalletUserRejected = errors.New("user rejected wallet request")

	// ErrWalletAlreadyPending: the wallet already has an authorization prompt open.
	ErrWalletAlreadyPending = errors.New("wallet request already pending")

	// ErrRelayUnavailable: the relay endpoint failed. Recovered locally via
	// direct-node fallback; surfaced only when the fallback also fails.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrSettlementAPI: the settlement service rejected a call. The wrapped
	// message carries the server-provided reason.
	ErrSettlementAPI = errors.New("settlement api error")

	// ErrConfirmTimeout: confirmation polling exceeded its deadline. The
	// trade may still settle; this is "pending", not a definitive failure.
	ErrConfirmTimeout = errors.New("confirmation timed out")

	// ErrConfirmRejected: the network reported the transaction as failed.
	ErrConfirmRejected = errors.New("confirmation rejected")

	// ErrInvalidAmount: purchase amount must be a positive integer.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNoActiveSession: operation requires a connected wallet session.
	ErrNoActiveSession = errors.New("no active wallet session")

	// ErrDuplicateInFlightTrade: a trade is already active on this
	// controller. Local guard rejection; no network call is made.
	ErrDuplicateInFlightTrade = errors.New("trade already in flight")

	// ErrBridgeTimeout: the wallet extension bridge did not answer in time.
	ErrBridgeTimeout = errors.New("wallet bridge timed out")
)

// Error ties a failing operation to a taxonomy kind, carrying either a
// formatted detail (e.g. the server-provided reason) or an underlying
// cause. The kind stays visible to errors.Is through the whole chain.
type Error struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return e.Op + ": " + e.Kind.Error() + ": " + e.Detail
	case e.Err != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap ties a cause to a taxonomy kind.
func Wrap(kind error, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Wrapf is Wrap with a formatted detail message instead of a cause.
func Wrapf(kind error, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// UserMessage maps an error to the text shown to the user. Transport
// detail stays in logs; the user gets guidance they can act on.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrWalletNotInstalled):
		return "No wallet found. Install a Solana wallet extension and retry."
	case errors.Is(err, ErrWalletUserRejected):
		return "You cancelled the transaction."
	case errors.Is(err, ErrWalletAlreadyPending):
		return "Your wallet already has a pending request. Open the wallet to finish or dismiss it."
	case errors.Is(err, ErrConfirmTimeout):
		return "Transaction is still pending. Check back shortly - it may still settle."
	case errors.Is(err, ErrConfirmRejected):
		return "The network rejected the transaction. No funds were moved."
	case errors.Is(err, ErrInvalidAmount):
		return "Enter a positive whole number of tokens."
	case errors.Is(err, ErrNoActiveSession):
		return "Connect your wallet before buying."
	case errors.Is(err, ErrDuplicateInFlightTrade):
		return "A purchase is already in progress. Wait for it to finish."
	case errors.Is(err, ErrBridgeTimeout):
		return "The wallet did not respond. Check the extension and retry."
	case errors.Is(err, ErrSettlementAPI):
		if detail := detailFor(err, ErrSettlementAPI); detail != "" {
			return "The marketplace could not process the trade: " + detail
		}
		return "The marketplace could not process the trade."
	case errors.Is(err, ErrRelayUnavailable):
		return "Network unavailable. Check your connection and retry."
	case err != nil:
		return "Something went wrong. Please retry."
	}
	return ""
}

// detailFor walks the chain for the Error tagged with kind and returns
// its human-readable detail.
func detailFor(err error, kind error) string {
	for err != nil {
		ce, ok := err.(*Error)
		if !ok {
			switch u := err.(type) {
			case interface{ Unwrap() error }:
				err = u.Unwrap()
				continue
			case interface{ Unwrap() []error }:
				for _, sub := range u.Unwrap() {
					if d := detailFor(sub, kind); d != "" {
						return d
					}
				}
			}
			return ""
		}
		if errors.Is(ce.Kind, kind) {
			switch {
			case ce.Detail != "":
				return ce.Detail
			case ce.Err != nil:
				return ce.Err.Error()
			}
			return ""
		}
		err = ce.Err
	}
	return ""
}
