package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
)

// fakeExtension plays the browser-extension side of the bridge socket.
type fakeExtension struct {
	t    *testing.T
	conn *websocket.Conn
}

func startBridge(t *testing.T) (*Provider, string) {
	t.Helper()
	p := New(zap.NewNop().Sugar())
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return p, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func attachExtension(t *testing.T, url string) *fakeExtension {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeExtension{t: t, conn: conn}
}

// respond answers every incoming request frame with reply(request).
func (f *fakeExtension) respond(reply func(frame) frame) {
	go func() {
		for {
			var req frame
			if err := f.conn.ReadJSON(&req); err != nil {
				return
			}
			resp := reply(req)
			resp.ID = req.ID
			if err := f.conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}()
}

func (f *fakeExtension) sendEvent(event, address string) {
	require.NoError(f.t, f.conn.WriteJSON(frame{Event: event, Address: address}))
}

func TestInstalledTracksAttachment(t *testing.T) {
	p, url := startBridge(t)
	assert.False(t, p.Installed(), "no peer, no wallet")

	ext := attachExtension(t, url)
	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)

	ext.conn.Close()
	require.Eventually(t, func() bool { return !p.Installed() }, time.Second, 10*time.Millisecond)
}

func TestCallWithoutPeerIsNotInstalled(t *testing.T) {
	p, _ := startBridge(t)
	_, err := p.Connect(context.Background(), false)
	assert.True(t, errors.Is(err, clienterr.ErrWalletNotInstalled))
}

func TestConnectRoundTrip(t *testing.T) {
	p, url := startBridge(t)
	ext := attachExtension(t, url)
	addr := solana.NewWallet().PublicKey()

	paramsCh := make(chan connectParams, 1)
	ext.respond(func(req frame) frame {
		require.Equal(t, "connect", req.Method)
		var in connectParams
		require.NoError(t, json.Unmarshal(req.Params, &in))
		paramsCh <- in
		result, _ := json.Marshal(connectResult{Address: addr.String()})
		return frame{Result: result}
	})

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	res, err := p.Connect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, addr, res.Address)
	assert.True(t, (<-paramsCh).OnlyIfTrusted)
}

func TestUserRejectionMapsToTypedError(t *testing.T) {
	p, url := startBridge(t)
	ext := attachExtension(t, url)
	ext.respond(func(req frame) frame {
		return frame{Error: &frameError{Code: codeUserRejected, Message: "User rejected the request."}}
	})

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	_, err := p.Connect(context.Background(), false)
	assert.True(t, errors.Is(err, clienterr.ErrWalletUserRejected))
}

func TestPendingRequestMapsToTypedError(t *testing.T) {
	p, url := startBridge(t)
	ext := attachExtension(t, url)
	ext.respond(func(req frame) frame {
		return frame{Error: &frameError{Code: codeRequestPending, Message: "Request already pending."}}
	})

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	_, err := p.Connect(context.Background(), false)
	assert.True(t, errors.Is(err, clienterr.ErrWalletAlreadyPending))
}

func TestUnresponsivePeerTimesOut(t *testing.T) {
	p, url := startBridge(t)
	p.callTimeout = 100 * time.Millisecond
	attachExtension(t, url) // attached but never answers

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	_, err := p.Connect(context.Background(), false)
	assert.True(t, errors.Is(err, clienterr.ErrBridgeTimeout))
}

func TestConcurrentCallsShareOneSocket(t *testing.T) {
	p, url := startBridge(t)
	p.callTimeout = 200 * time.Millisecond
	attachExtension(t, url) // attached but never answers

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)

	// A disconnect racing a signing prompt, or several UI requests at
	// once, all write to the same connection.
	var wg sync.WaitGroup
	errs := make([]error, 32)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Connect(context.Background(), false)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, errors.Is(err, clienterr.ErrBridgeTimeout))
	}
}

func TestContextCancelUnblocksCall(t *testing.T) {
	p, url := startBridge(t)
	attachExtension(t, url)
	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Connect(ctx, false)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAccountChangedEventReachesSubscribers(t *testing.T) {
	p, url := startBridge(t)
	addr := solana.NewWallet().PublicKey()

	var mu sync.Mutex
	var events []wallet.Event
	p.Subscribe(func(ev wallet.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ext := attachExtension(t, url)
	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	ext.sendEvent("accountChanged", addr.String())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, wallet.EventAccountChanged, events[0].Type)
	require.NotNil(t, events[0].Address)
	assert.Equal(t, addr, *events[0].Address)
}

func TestPeerVanishingEmitsDisconnect(t *testing.T) {
	p, url := startBridge(t)

	var mu sync.Mutex
	var events []wallet.Event
	p.Subscribe(func(ev wallet.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ext := attachExtension(t, url)
	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	ext.conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1 && events[0].Type == wallet.EventDisconnect
	}, time.Second, 10*time.Millisecond)
}

func TestSignTransactionRoundTrip(t *testing.T) {
	p, url := startBridge(t)
	ext := attachExtension(t, url)
	payer := solana.NewWallet()

	ext.respond(func(req frame) frame {
		require.Equal(t, "signTransaction", req.Method)
		var in signParams
		require.NoError(t, json.Unmarshal(req.Params, &in))

		tx, err := solana.TransactionFromBase64(in.TransactionBase64)
		require.NoError(t, err)
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(payer.PublicKey()) {
				return &payer.PrivateKey
			}
			return nil
		})
		require.NoError(t, err)

		signedB64, err := tx.ToBase64()
		require.NoError(t, err)
		result, _ := json.Marshal(signResult{SignedTransactionBase64: signedB64})
		return frame{Result: result}
	})

	recipient := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1_000, payer.PublicKey(), recipient).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Installed() }, time.Second, 10*time.Millisecond)
	signed, err := p.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NotEmpty(t, signed.Signatures)
	assert.NoError(t, signed.VerifySignatures())
}
