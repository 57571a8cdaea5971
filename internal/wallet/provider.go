// Package wallet owns the wallet lifecycle: provider discovery,
// connect/disconnect, the persisted session record, and change
// notification. The Session held by the SessionManager is the single
// source of truth for connection state; nothing else in the client
// polls the wallet to infer it.
package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Kind identifies a provider implementation.
type Kind string

const (
	// KindPhantom is the browser-extension provider reached over the
	// loopback bridge.
	KindPhantom Kind = "phantom"
	// KindGeneric is the in-process keypair provider.
	KindGeneric Kind = "generic"
)

// EventType enumerates provider-originated events.
type EventType string

const (
	EventAccountChanged EventType = "accountChanged"
	EventDisconnect     EventType = "disconnect"
)

// Event is a provider-originated state change. Address is nil for
// disconnect events and for accountChanged events that revoke access.
type Event struct {
	Type    EventType
	Address *solana.PublicKey
}

// EventHandler receives provider events. Handlers run on the provider's
// event goroutine and must not block.
type EventHandler func(Event)

// ConnectResult is the outcome of a successful provider connect.
type ConnectResult struct {
	Address solana.PublicKey
}

// Provider is the capability contract a wallet backend must satisfy.
// Implementations map their native failures onto the clienterr taxonomy
// (WalletNotInstalled, WalletUserRejected, WalletAlreadyPending).
type Provider interface {
	Kind() Kind

	// Installed reports whether the backing wallet is reachable right
	// now. Used for capability probing at connect time.
	Installed() bool

	// Connect requests authorization. With onlyIfTrusted the request is
	// non-interactive and fails unless the user previously approved
	// this origin.
	Connect(ctx context.Context, onlyIfTrusted bool) (ConnectResult, error)

	// SignTransaction returns the transaction with the wallet's
	// signature applied. The input is not modified on failure.
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)

	Disconnect(ctx context.Context) error

	// Subscribe registers a handler for provider-originated events.
	Subscribe(h EventHandler)
}
