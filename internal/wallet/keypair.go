package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/rwahub-io/rwahub-client/internal/securefile"
)

const keypairLabel = "rwahub:keypair:v1"

type keypairRecord struct {
	PrivateKey string `json:"private_key_b58"`
}

// LoadKeypair opens an encrypted keypair file written by SaveKeypair.
func LoadKeypair(path string, passphrase []byte) (solana.PrivateKey, error) {
	rec, err := securefile.Read[keypairRecord](path, keypairLabel, passphrase)
	if err != nil {
		return nil, err
	}
	priv, err := solana.PrivateKeyFromBase58(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse stored keypair: %w", err)
	}
	return priv, nil
}

// SaveKeypair encrypts priv under passphrase and writes it to path.
func SaveKeypair(path string, priv solana.PrivateKey, passphrase []byte) error {
	return securefile.Write(path, keypairLabel, keypairRecord{PrivateKey: priv.String()}, passphrase)
}

// KeypairProvider is the Generic provider variant: an in-process ed25519
// keypair. There is no user prompt to reject, so Connect always succeeds
// and onlyIfTrusted is a no-op.
type KeypairProvider struct {
	priv solana.PrivateKey

	mu       sync.Mutex
	handlers []EventHandler
}

func NewKeypairProvider(priv solana.PrivateKey) *KeypairProvider {
	return &KeypairProvider{priv: priv}
}

func (p *KeypairProvider) Kind() Kind      { return KindGeneric }
func (p *KeypairProvider) Installed() bool { return len(p.priv) > 0 }

func (p *KeypairProvider) Connect(ctx context.Context, onlyIfTrusted bool) (ConnectResult, error) {
	_ = onlyIfTrusted
	if len(p.priv) == 0 {
		return ConnectResult{}, fmt.Errorf("keypair provider: no key loaded")
	}
	return ConnectResult{Address: p.priv.PublicKey()}, nil
}

func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.priv.PublicKey()) {
			return &p.priv
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keypair sign: %w", err)
	}
	return tx, nil
}

func (p *KeypairProvider) Disconnect(ctx context.Context) error { return nil }

func (p *KeypairProvider) Subscribe(h EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}
