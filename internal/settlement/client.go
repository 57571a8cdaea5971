// Package settlement is the HTTP client for the trade settlement
// service: allocate a trade and its unsigned payload, then record the
// confirmation once the transaction is on chain. The service owns trade
// lifecycle; this client never fabricates results when it is down - a
// failed call is a typed error, full stop.
package settlement

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient points at the settlement service base URL
// (e.g. https://app.rwahub.io/api).
func NewClient(baseURL string) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
	}
}

// CreateTrade wraps POST /trades/create. The returned trade stays
// unsettled server-side until confirmed; abandoned trades are expired by
// the server, not the client.
func (c *Client) CreateTrade(ctx context.Context, assetID string, amount int64, walletAddress string) (*CreatedTrade, error) {
	var out createTradeResponse
	in := createTradeRequest{AssetID: assetID, Amount: amount, WalletAddress: walletAddress}
	if err := c.post(ctx, "/trades/create", in, &out); err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(out.UnsignedPayload)
	if err != nil {
		return nil, clienterr.Wrap(clienterr.ErrSettlementAPI, "settlement.CreateTrade",
			fmt.Errorf("bad unsigned payload: %w", err))
	}
	if out.TradeID == "" {
		return nil, clienterr.Wrapf(clienterr.ErrSettlementAPI, "settlement.CreateTrade",
			"server returned no trade id")
	}

	return &CreatedTrade{
		TradeID:             out.TradeID,
		UnsignedPayload:     payload,
		CounterpartyAddress: out.CounterpartyAddress,
		UnitPrice:           out.UnitPrice,
		Subtotal:            out.Subtotal,
		PlatformFee:         out.PlatformFee,
		TotalAmount:         out.TotalAmount,
	}, nil
}

// ConfirmTrade wraps POST /trades/confirm. Idempotent by trade id:
// repeating the call (e.g. after a client restart) must not double-settle,
// the server returns the original outcome.
func (c *Client) ConfirmTrade(ctx context.Context, tradeID, txHash string) (*Confirmation, error) {
	var out confirmTradeResponse
	in := confirmTradeRequest{TradeID: tradeID, TxHash: txHash}
	if err := c.post(ctx, "/trades/confirm", in, &out); err != nil {
		return nil, err
	}
	return &Confirmation{Success: out.Success, SettledAmount: out.SettledAmount}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	op := "settlement " + path

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clienterr.Wrap(clienterr.ErrSettlementAPI, op, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fail errorResponse
		if json.Unmarshal(body, &fail) == nil && fail.Message != "" {
			return clienterr.Wrapf(clienterr.ErrSettlementAPI, op, "%s (%s)", fail.Message, fail.ErrorCode)
		}
		return clienterr.Wrapf(clienterr.ErrSettlementAPI, op, "status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return clienterr.Wrap(clienterr.ErrSettlementAPI, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
