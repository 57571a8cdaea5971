// Package connproxy presents the connection surface the rest of the
// client codes against. The finite method set the application actually
// uses is routed through the relay fallback chain; everything else the
// SDK offers stays reachable through Direct(), untouched. New SDK
// surface therefore never breaks: unintercepted methods fail open to
// the direct connection.
package connproxy

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/rwahub-io/rwahub-client/internal/relay"
)

// Proxy routes intercepted operations through a relay.Transport (usually
// a fallback chain) and exposes the raw SDK client for the rest.
type Proxy struct {
	transport relay.Transport
	direct    *rpc.Client
}

// New builds a proxy. direct may be nil when no public node is
// configured; Direct() then returns nil and callers needing
// unintercepted surface must handle that.
func New(transport relay.Transport, direct *rpc.Client) *Proxy {
	return &Proxy{transport: transport, direct: direct}
}

// Direct returns the underlying SDK client for methods outside the
// intercepted set.
func (p *Proxy) Direct() *rpc.Client { return p.direct }

func (p *Proxy) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return p.transport.GetBalance(ctx, addr)
}

func (p *Proxy) GetLatestBlockhash(ctx context.Context) (relay.Blockhash, error) {
	return p.transport.GetLatestBlockhash(ctx)
}

func (p *Proxy) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*relay.AccountInfo, error) {
	return p.transport.GetAccountInfo(ctx, addr)
}

func (p *Proxy) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]relay.TokenAccount, error) {
	return p.transport.GetTokenAccountsByOwner(ctx, owner, mint)
}

func (p *Proxy) SendTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (solana.Signature, error) {
	return p.transport.SendTransaction(ctx, serialized, skipPreflight)
}

// ConfirmTransaction reports the current confirmation status of sig.
// One status probe per call; polling cadence is the caller's concern.
func (p *Proxy) ConfirmTransaction(ctx context.Context, sig solana.Signature) (relay.TxStatus, error) {
	return p.transport.TransactionStatus(ctx, sig)
}

// InvalidateReads drops any cached read results on the underlying
// transport, when it caches at all.
func (p *Proxy) InvalidateReads() {
	if inv, ok := p.transport.(interface{ InvalidateReads() }); ok {
		inv.InvalidateReads()
	}
}
