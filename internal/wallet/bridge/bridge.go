// Package bridge implements the Phantom provider variant. The browser
// extension side attaches to a loopback WebSocket; wallet calls become
// request/response frames over that socket, extension events
// (accountChanged, disconnect) flow back as unsolicited frames. When no
// peer is attached the wallet counts as not installed.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
)

// Phantom provider error codes, per the extension's JSON-RPC surface.
const (
	codeUserRejected   = 4001
	codeRequestPending = -32002
)

// DefaultCallTimeout bounds every bridge round trip. Signing prompts sit
// in front of a human, so this is generous; an unresponsive extension
// still resolves to a typed failure instead of hanging the flow.
const DefaultCallTimeout = 90 * time.Second

type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`

	Event   string `json:"event,omitempty"`
	Address string `json:"address,omitempty"`
}

type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Provider is the wallet.Provider backed by the extension bridge.
type Provider struct {
	log         *zap.SugaredLogger
	callTimeout time.Duration
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan frame
	handlers []wallet.EventHandler

	// writeMu serializes socket writes; gorilla connections allow only
	// one concurrent writer.
	writeMu sync.Mutex
}

func New(log *zap.SugaredLogger) *Provider {
	return &Provider{
		log:         log,
		callTimeout: DefaultCallTimeout,
		pending:     map[string]chan frame{},
		// Loopback-only guard happens in the HTTP layer; the bridge
		// accepts whatever was let through.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (p *Provider) Kind() wallet.Kind { return wallet.KindPhantom }

func (p *Provider) Installed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Handler upgrades the extension's connection. A newly attached peer
// replaces any previous one; calls pending on the old socket fail.
func (p *Provider) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.log.Warnw("bridge upgrade failed", "error", err)
			return
		}
		p.attach(conn)
		go p.readLoop(conn)
	}
}

func (p *Provider) attach(conn *websocket.Conn) {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.failPendingLocked(fmt.Errorf("bridge peer replaced"))
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	p.log.Infow("wallet bridge attached", "remote", conn.RemoteAddr().String())
}

func (p *Provider) detach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.failPendingLocked(fmt.Errorf("bridge peer detached"))
	handlers := append([]wallet.EventHandler{}, p.handlers...)
	p.mu.Unlock()

	_ = conn.Close()
	p.log.Infow("wallet bridge detached")
	// A vanished extension is a disconnect as far as the session goes.
	for _, h := range handlers {
		h(wallet.Event{Type: wallet.EventDisconnect})
	}
}

func (p *Provider) failPendingLocked(cause error) {
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- frame{Error: &frameError{Code: -1, Message: cause.Error()}}
	}
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	defer p.detach(conn)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch {
		case f.Event != "":
			p.dispatchEvent(f)
		case f.ID != "":
			p.mu.Lock()
			ch, ok := p.pending[f.ID]
			if ok {
				delete(p.pending, f.ID)
			}
			p.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

func (p *Provider) dispatchEvent(f frame) {
	p.mu.Lock()
	handlers := append([]wallet.EventHandler{}, p.handlers...)
	p.mu.Unlock()

	var ev wallet.Event
	switch f.Event {
	case "accountChanged":
		ev.Type = wallet.EventAccountChanged
		if f.Address != "" {
			pk, err := solana.PublicKeyFromBase58(f.Address)
			if err != nil {
				p.log.Warnw("ignoring accountChanged with bad address",
					"address", f.Address, "error", err)
				return
			}
			ev.Address = &pk
		}
	case "disconnect":
		ev.Type = wallet.EventDisconnect
	default:
		p.log.Debugw("ignoring unknown bridge event", "event", f.Event)
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}

func (p *Provider) call(ctx context.Context, method string, params, result any) error {
	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return clienterr.Wrap(clienterr.ErrWalletNotInstalled, "bridge."+method, nil)
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			p.dropPending(id)
			return fmt.Errorf("bridge %s: marshal params: %w", method, err)
		}
		raw = b
	}
	if err := p.writeFrame(conn, frame{ID: id, Method: method, Params: raw}); err != nil {
		p.dropPending(id)
		return clienterr.Wrap(clienterr.ErrWalletNotInstalled, "bridge."+method, err)
	}

	timer := time.NewTimer(p.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		p.dropPending(id)
		return ctx.Err()
	case <-timer.C:
		p.dropPending(id)
		return clienterr.Wrap(clienterr.ErrBridgeTimeout, "bridge."+method, nil)
	case f := <-ch:
		if f.Error != nil {
			return mapFrameError(method, f.Error)
		}
		if result != nil {
			if err := json.Unmarshal(f.Result, result); err != nil {
				return fmt.Errorf("bridge %s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (p *Provider) writeFrame(conn *websocket.Conn, f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (p *Provider) dropPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func mapFrameError(method string, fe *frameError) error {
	op := "bridge." + method
	switch fe.Code {
	case codeUserRejected:
		return clienterr.Wrapf(clienterr.ErrWalletUserRejected, op, "%s", fe.Message)
	case codeRequestPending:
		return clienterr.Wrapf(clienterr.ErrWalletAlreadyPending, op, "%s", fe.Message)
	default:
		return fmt.Errorf("%s: wallet error %d: %s", op, fe.Code, fe.Message)
	}
}

type connectParams struct {
	OnlyIfTrusted bool `json:"only_if_trusted"`
}

type connectResult struct {
	Address string `json:"address"`
}

func (p *Provider) Connect(ctx context.Context, onlyIfTrusted bool) (wallet.ConnectResult, error) {
	var out connectResult
	if err := p.call(ctx, "connect", connectParams{OnlyIfTrusted: onlyIfTrusted}, &out); err != nil {
		return wallet.ConnectResult{}, err
	}
	pk, err := solana.PublicKeyFromBase58(out.Address)
	if err != nil {
		return wallet.ConnectResult{}, fmt.Errorf("bridge.connect: bad address %q: %w", out.Address, err)
	}
	return wallet.ConnectResult{Address: pk}, nil
}

type signParams struct {
	TransactionBase64 string `json:"transaction_base64"`
}

type signResult struct {
	SignedTransactionBase64 string `json:"signed_transaction_base64"`
}

func (p *Provider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	serialized, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bridge.signTransaction: serialize: %w", err)
	}

	var out signResult
	in := signParams{TransactionBase64: base64.StdEncoding.EncodeToString(serialized)}
	if err := p.call(ctx, "signTransaction", in, &out); err != nil {
		return nil, err
	}

	signed, err := solana.TransactionFromBase64(out.SignedTransactionBase64)
	if err != nil {
		return nil, fmt.Errorf("bridge.signTransaction: decode signed transaction: %w", err)
	}
	return signed, nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	return p.call(ctx, "disconnect", nil, nil)
}

func (p *Provider) Subscribe(h wallet.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}
