package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
)

const (
	defaultReadTimeout   = 5 * time.Second
	defaultStatusTimeout = 20 * time.Second
)

// Client is the Transport backed by the first-party relay API. Every
// failure (non-2xx status, network error, timeout) comes back wrapped in
// clienterr.ErrRelayUnavailable so the fallback chain can recover it.
type Client struct {
	baseURL string

	httpClient *http.Client
	// Confirmation status lookups tolerate slower responses than plain
	// reads, so they get their own client.
	statusClient *http.Client
}

// NewClient builds a relay client for the given base URL
// (e.g. https://app.rwahub.io). Trailing slashes are trimmed.
func NewClient(baseURL string) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultReadTimeout},
		statusClient: &http.Client{Timeout: defaultStatusTimeout},
	}
}

func (c *Client) Name() string { return "relay" }

type balanceResponse struct {
	Lamports uint64 `json:"lamports"`
}

func (c *Client) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	var out balanceResponse
	q := url.Values{"address": {addr.String()}}
	if err := c.get(ctx, c.httpClient, "/relay/balance", q, &out); err != nil {
		return 0, err
	}
	return out.Lamports, nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out Blockhash
	if err := c.get(ctx, c.httpClient, "/relay/latest-blockhash", nil, &out); err != nil {
		return Blockhash{}, err
	}
	return out, nil
}

type accountResponse struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	DataBase64 string `json:"data_base64"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
}

func (c *Client) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	var out accountResponse
	q := url.Values{"address": {addr.String()}}
	if err := c.get(ctx, c.httpClient, "/relay/account", q, &out); err != nil {
		return nil, err
	}

	owner, err := solana.PublicKeyFromBase58(out.Owner)
	if err != nil {
		return nil, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.GetAccountInfo",
			fmt.Errorf("bad owner in response: %w", err))
	}
	data, err := base64.StdEncoding.DecodeString(out.DataBase64)
	if err != nil {
		return nil, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.GetAccountInfo",
			fmt.Errorf("bad account data in response: %w", err))
	}

	return &AccountInfo{
		Lamports:   out.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: out.Executable,
		RentEpoch:  out.RentEpoch,
	}, nil
}

type tokenAccountsResponse struct {
	Accounts []struct {
		Pubkey string `json:"pubkey"`
		Mint   string `json:"mint"`
		Owner  string `json:"owner"`
		Amount uint64 `json:"amount"`
	} `json:"accounts"`
}

func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]TokenAccount, error) {
	var out tokenAccountsResponse
	q := url.Values{
		"owner": {owner.String()},
		"mint":  {mint.String()},
	}
	if err := c.get(ctx, c.httpClient, "/relay/token-accounts", q, &out); err != nil {
		return nil, err
	}

	accounts := make([]TokenAccount, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.GetTokenAccountsByOwner",
				fmt.Errorf("bad pubkey in response: %w", err))
		}
		mk, err := solana.PublicKeyFromBase58(a.Mint)
		if err != nil {
			return nil, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.GetTokenAccountsByOwner",
				fmt.Errorf("bad mint in response: %w", err))
		}
		ok, err := solana.PublicKeyFromBase58(a.Owner)
		if err != nil {
			return nil, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.GetTokenAccountsByOwner",
				fmt.Errorf("bad owner in response: %w", err))
		}
		accounts = append(accounts, TokenAccount{Pubkey: pk, Mint: mk, Owner: ok, Amount: a.Amount})
	}
	return accounts, nil
}

type submitRequest struct {
	SerializedTransactionBase64 string `json:"serialized_transaction_base64"`
	SkipPreflight               bool   `json:"skip_preflight"`
}

type submitResponse struct {
	Signature string `json:"signature"`
}

func (c *Client) SendTransaction(ctx context.Context, serialized []byte, skipPreflight bool) (solana.Signature, error) {
	in := submitRequest{
		SerializedTransactionBase64: base64.StdEncoding.EncodeToString(serialized),
		SkipPreflight:               skipPreflight,
	}
	var out submitResponse
	if err := c.post(ctx, "/relay/submit-transaction", in, &out); err != nil {
		return solana.Signature{}, err
	}
	sig, err := solana.SignatureFromBase58(out.Signature)
	if err != nil {
		return solana.Signature{}, clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay.SendTransaction",
			fmt.Errorf("bad signature in response: %w", err))
	}
	return sig, nil
}

type statusResponse struct {
	Slot      uint64 `json:"slot"`
	Confirmed bool   `json:"confirmed"`
	Err       string `json:"err"`
}

func (c *Client) TransactionStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	var out statusResponse
	q := url.Values{"signature": {sig.String()}}
	if err := c.get(ctx, c.statusClient, "/relay/transaction-status", q, &out); err != nil {
		return TxStatus{}, err
	}
	return TxStatus{
		Signature: sig,
		Slot:      out.Slot,
		Confirmed: out.Confirmed,
		Err:       out.Err,
	}, nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay "+path, err)
	}
	return c.do(hc, path, req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay "+path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay "+path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.httpClient, path, req, out)
}

func (c *Client) do(hc *http.Client, path string, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay "+path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return clienterr.Wrapf(clienterr.ErrRelayUnavailable, "relay "+path,
			"status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return clienterr.Wrap(clienterr.ErrRelayUnavailable, "relay "+path,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}
