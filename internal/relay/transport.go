// Package relay executes the closed set of chain operations the client
// needs, either through the marketplace's first-party relay API or
// straight against a public node, behind one Transport interface.
// Callers cannot tell which path served a request.
package relay

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Blockhash is a blockhash/height pair usable as a transaction lifetime.
type Blockhash struct {
	Blockhash            solana.Hash `json:"blockhash"`
	LastValidBlockHeight uint64      `json:"last_valid_block_height"`
}

// AccountInfo is the normalized account read result. Lamports are in the
// chain's native smallest unit, data is the raw account bytes.
type AccountInfo struct {
	Lamports   uint64
	Owner      solana.PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// TokenAccount is one SPL token account owned by a wallet.
type TokenAccount struct {
	Pubkey solana.PublicKey
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// TxStatus reports where a submitted transaction stands. Err is the
// chain-reported failure, empty when the transaction did not fail.
type TxStatus struct {
	Signature solana.Signature
	Slot      uint64
	Confirmed bool
	Err       string
}

// Failed reports whether the chain recorded the transaction as failed.
func (s TxStatus) Failed() bool { return s.Err != "" }

// Transport is the finite operation set the application uses. Both the
// relay path and the direct-node path implement it with identical result
// shapes. Mutating operations (SendTransaction) must never be cached;
// resubmitting the same signed transaction is safe because the network
// deduplicates by signature.
type Transport interface {
	Name() string

	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]TokenAccount, error)

	SendTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (solana.Signature, error)
	TransactionStatus(ctx context.Context, sig solana.Signature) (TxStatus, error)
}
