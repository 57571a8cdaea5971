package market

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rwahub-io/rwahub-client/internal/connproxy"
)

// usdcDecimals is fixed by the USDC mint.
const usdcDecimals = 6

// Balances answers the read-only affordability questions asked before a
// purchase. All reads go through the connection proxy, so they benefit
// from the relay cache and fall back to the direct node transparently.
type Balances struct {
	conn     *connproxy.Proxy
	usdcMint solana.PublicKey
}

func NewBalances(conn *connproxy.Proxy, usdcMint solana.PublicKey) *Balances {
	return &Balances{conn: conn, usdcMint: usdcMint}
}

// SOL returns the wallet's lamport balance.
func (b *Balances) SOL(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return b.conn.GetBalance(ctx, owner)
}

// USDC sums the wallet's USDC token accounts, in whole USDC.
func (b *Balances) USDC(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	accounts, err := b.conn.GetTokenAccountsByOwner(ctx, owner, b.usdcMint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usdc balance: %w", err)
	}
	var raw uint64
	for _, a := range accounts {
		raw += a.Amount
	}
	return decimal.New(int64(raw), -usdcDecimals), nil
}

// CheckAffordable verifies the wallet can cover total (USDC). Returns
// the current balance either way so the UI can show the shortfall.
func (b *Balances) CheckAffordable(ctx context.Context, owner solana.PublicKey, total decimal.Decimal) (bool, decimal.Decimal, error) {
	balance, err := b.USDC(ctx, owner)
	if err != nil {
		return false, decimal.Zero, err
	}
	return balance.GreaterThanOrEqual(total), balance, nil
}
