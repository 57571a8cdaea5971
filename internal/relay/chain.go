package relay

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultReadTTL bounds how long read results may be served from cache.
// Blockhashes go stale within a minute on chain, so this stays short.
const DefaultReadTTL = 10 * time.Second

const (
	cacheKeyBlockhash = "latest-blockhash"
)

// Chain composes transports in fallback order: the first transport that
// answers wins, later ones are only tried after a failure. Read results
// are cached for a short TTL; SendTransaction and TransactionStatus are
// never cached.
type Chain struct {
	transports []Transport
	reads      *gocache.Cache
	log        *zap.SugaredLogger
}

// NewChain builds a fallback chain over the given transports, tried in
// order. At least one transport is required.
func NewChain(log *zap.SugaredLogger, readTTL time.Duration, transports ...Transport) *Chain {
	if readTTL <= 0 {
		readTTL = DefaultReadTTL
	}
	return &Chain{
		transports: transports,
		reads:      gocache.New(readTTL, 2*readTTL),
		log:        log,
	}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return cachedRead(c, "balance:"+addr.String(), func(t Transport) (uint64, error) {
		return t.GetBalance(ctx, addr)
	})
}

func (c *Chain) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	return cachedRead(c, cacheKeyBlockhash, func(t Transport) (Blockhash, error) {
		return t.GetLatestBlockhash(ctx)
	})
}

func (c *Chain) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	return cachedRead(c, "account:"+addr.String(), func(t Transport) (*AccountInfo, error) {
		return t.GetAccountInfo(ctx, addr)
	})
}

func (c *Chain) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]TokenAccount, error) {
	key := "token-accounts:" + owner.String() + ":" + mint.String()
	return cachedRead(c, key, func(t Transport) ([]TokenAccount, error) {
		return t.GetTokenAccountsByOwner(ctx, owner, mint)
	})
}

func (c *Chain) SendTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (solana.Signature, error) {
	return failover(c, func(t Transport) (solana.Signature, error) {
		return t.SendTransaction(ctx, serialized, skipPreflight)
	})
}

func (c *Chain) TransactionStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	return failover(c, func(t Transport) (TxStatus, error) {
		return t.TransactionStatus(ctx, sig)
	})
}

// InvalidateReads drops all cached read results. Called after a
// submitted transaction settles so balance reads reflect it.
func (c *Chain) InvalidateReads() {
	c.reads.Flush()
}

// failover runs op against each transport in order and returns the first
// success. Only one fallback attempt is made per failed transport; the
// last error is returned when every path is exhausted.
func failover[T any](c *Chain, op func(Transport) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, t := range c.transports {
		out, err := op(t)
		if err == nil {
			if i > 0 {
				c.log.Debugw("request served by fallback transport", "transport", t.Name())
			}
			return out, nil
		}
		lastErr = err
		if i < len(c.transports)-1 {
			c.log.Warnw("transport failed, trying next",
				"transport", t.Name(), "error", err)
		}
	}
	return zero, lastErr
}

func cachedRead[T any](c *Chain, key string, op func(Transport) (T, error)) (T, error) {
	if hit, ok := c.reads.Get(key); ok {
		return hit.(T), nil
	}
	out, err := failover(c, op)
	if err != nil {
		var zero T
		return zero, err
	}
	c.reads.SetDefault(key, out)
	return out, nil
}
