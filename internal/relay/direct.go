package relay

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// splTokenAccountSize is the byte length of an SPL token account.
// Layout: mint [0:32], owner [32:64], amount u64 LE [64:72].
const splTokenAccountSize = 165

// Direct is the Transport backed by a public node through the chain SDK.
// It only serves as the fallback path when the relay is unreachable.
type Direct struct {
	rpc *rpc.Client
}

// NewDirect wraps an existing SDK client. The caller keeps ownership of
// the client and may use it for operations outside the Transport set.
func NewDirect(client *rpc.Client) *Direct {
	return &Direct{rpc: client}
}

func (d *Direct) Name() string { return "direct" }

// RPC exposes the underlying SDK client for unintercepted methods.
func (d *Direct) RPC() *rpc.Client { return d.rpc }

func (d *Direct) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := d.rpc.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("direct getBalance: %w", err)
	}
	return out.Value, nil
}

func (d *Direct) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	out, err := d.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return Blockhash{}, fmt.Errorf("direct getLatestBlockhash: %w", err)
	}
	return Blockhash{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (d *Direct) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	out, err := d.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("direct getAccountInfo: %w", err)
	}
	if out.Value == nil {
		return nil, fmt.Errorf("direct getAccountInfo: account %s not found", addr)
	}
	info := &AccountInfo{
		Lamports:   out.Value.Lamports,
		Owner:      out.Value.Owner,
		Data:       out.Value.Data.GetBinary(),
		Executable: out.Value.Executable,
	}
	// The SDK reports the rent epoch as *big.Int; nodes omit it for
	// rent-exempt accounts.
	if out.Value.RentEpoch != nil {
		info.RentEpoch = out.Value.RentEpoch.Uint64()
	}
	return info, nil
}

func (d *Direct) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]TokenAccount, error) {
	out, err := d.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
	if err != nil {
		return nil, fmt.Errorf("direct getTokenAccountsByOwner: %w", err)
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, item := range out.Value {
		data := item.Account.Data.GetBinary()
		if len(data) < splTokenAccountSize {
			return nil, fmt.Errorf("direct getTokenAccountsByOwner: short token account %s (%d bytes)",
				item.Pubkey, len(data))
		}
		accounts = append(accounts, TokenAccount{
			Pubkey: item.Pubkey,
			Mint:   solana.PublicKeyFromBytes(data[0:32]),
			Owner:  solana.PublicKeyFromBytes(data[32:64]),
			Amount: binary.LittleEndian.Uint64(data[64:72]),
		})
	}
	return accounts, nil
}

func (d *Direct) SendTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (solana.Signature, error) {
	sig, err := d.rpc.SendRawTransactionWithOpts(ctx, serialized, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("direct sendTransaction: %w", err)
	}
	return sig, nil
}

func (d *Direct) TransactionStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	out, err := d.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return TxStatus{}, fmt.Errorf("direct transactionStatus: %w", err)
	}
	status := TxStatus{Signature: sig}
	if len(out.Value) == 0 || out.Value[0] == nil {
		// Unknown to the node yet; not confirmed, not failed.
		return status, nil
	}
	v := out.Value[0]
	status.Slot = v.Slot
	if v.Err != nil {
		status.Err = fmt.Sprintf("%v", v.Err)
	}
	status.Confirmed = v.Err == nil &&
		(v.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			v.ConfirmationStatus == rpc.ConfirmationStatusFinalized)
	return status, nil
}
