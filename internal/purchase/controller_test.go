package purchase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
	"github.com/rwahub-io/rwahub-client/internal/connproxy"
	"github.com/rwahub-io/rwahub-client/internal/relay"
	"github.com/rwahub-io/rwahub-client/internal/settlement"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
)

// scriptProvider is a wallet.Provider whose signing behavior the test
// controls.
type scriptProvider struct {
	priv    solana.PrivateKey
	signErr error

	mu        sync.Mutex
	signCalls int
}

func (p *scriptProvider) Kind() wallet.Kind { return wallet.KindGeneric }
func (p *scriptProvider) Installed() bool   { return true }

func (p *scriptProvider) Connect(context.Context, bool) (wallet.ConnectResult, error) {
	return wallet.ConnectResult{Address: p.priv.PublicKey()}, nil
}

func (p *scriptProvider) SignTransaction(_ context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	p.mu.Lock()
	p.signCalls++
	err := p.signErr
	priv := p.priv
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	_, signErr := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(priv.PublicKey()) {
			return &priv
		}
		return nil
	})
	if signErr != nil {
		return nil, signErr
	}
	return tx, nil
}

func (p *scriptProvider) Disconnect(context.Context) error { return nil }
func (p *scriptProvider) Subscribe(wallet.EventHandler)    {}

func (p *scriptProvider) signed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signCalls
}

// chainState scripts the fake relay's view of the chain.
type chainState struct {
	mu          sync.Mutex
	confirmed   bool
	chainErr    string
	submitCalls int
	statusCalls int
}

func (c *chainState) set(confirmed bool, chainErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = confirmed
	c.chainErr = chainErr
}

// settleState scripts the fake settlement service.
type settleState struct {
	mu             sync.Mutex
	createCalls    int
	confirmCalls   int
	confirmSuccess bool
	lastTradeID    string
	lastTxHash     string
}

type env struct {
	controller *Controller
	provider   *scriptProvider
	chain      *chainState
	settle     *settleState
	trades     *TradeLog
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()

	payer := solana.NewWallet()
	recipient := solana.NewWallet().PublicKey()
	unsignedTx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1_000, payer.PublicKey(), recipient).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)
	unsignedRaw, err := unsignedTx.MarshalBinary()
	require.NoError(t, err)

	var submitSig solana.Signature
	submitSig[0] = 0xAB

	chain := &chainState{}
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain.mu.Lock()
		defer chain.mu.Unlock()
		switch r.URL.Path {
		case "/relay/submit-transaction":
			chain.submitCalls++
			_ = json.NewEncoder(w).Encode(map[string]string{"signature": submitSig.String()})
		case "/relay/transaction-status":
			chain.statusCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"slot":      100,
				"confirmed": chain.confirmed,
				"err":       chain.chainErr,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(relaySrv.Close)

	settle := &settleState{confirmSuccess: true}
	settleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		settle.mu.Lock()
		defer settle.mu.Unlock()
		switch r.URL.Path {
		case "/trades/create":
			settle.createCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"trade_id":             "trade-42",
				"unsigned_payload":     base64.StdEncoding.EncodeToString(unsignedRaw),
				"counterparty_address": "treasury",
				"unit_price":           "25.00",
				"subtotal":             "75.00",
				"platform_fee":         "1.50",
				"total_amount":         "76.50",
			})
		case "/trades/confirm":
			settle.confirmCalls++
			var in struct {
				TradeID string `json:"trade_id"`
				TxHash  string `json:"tx_hash"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			settle.lastTradeID = in.TradeID
			settle.lastTxHash = in.TxHash
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":        settle.confirmSuccess,
				"settled_amount": "76.50",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(settleSrv.Close)

	log := zap.NewNop().Sugar()
	provider := &scriptProvider{priv: payer.PrivateKey}
	sessions := wallet.NewSessionManager(log, wallet.NewStore(t.TempDir()), provider)
	_, err = sessions.Connect(context.Background())
	require.NoError(t, err)

	conn := connproxy.New(
		relay.NewChain(log, time.Minute, relay.NewClient(relaySrv.URL)),
		nil,
	)
	trades, err := NewTradeLog(t.TempDir())
	require.NoError(t, err)

	controller := NewController(context.Background(), log,
		sessions, settlement.NewClient(settleSrv.URL), conn, trades, cfg)

	return &env{
		controller: controller,
		provider:   provider,
		chain:      chain,
		settle:     settle,
		trades:     trades,
	}
}

func fastConfig() Config {
	return Config{
		ConfirmDeadline: 500 * time.Millisecond,
		ApprovalTimeout: 5 * time.Second,
		SignTimeout:     2 * time.Second,
		SubmitTimeout:   2 * time.Second,
		PollInterval:    20 * time.Millisecond,
	}
}

func waitState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = c.Snapshot()
		return snap.State == want
	}, 5*time.Second, 5*time.Millisecond, "never reached %s", want)
	return snap
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	e := newEnv(t, fastConfig())

	for _, amount := range []int64{0, -3} {
		err := e.controller.Initiate("RH-1001", amount)
		assert.True(t, errors.Is(err, clienterr.ErrInvalidAmount))
	}
	assert.Equal(t, StateIdle, e.controller.Snapshot().State)

	e.settle.mu.Lock()
	defer e.settle.mu.Unlock()
	assert.Zero(t, e.settle.createCalls, "guard rejections must not reach the network")
}

func TestInitiateRequiresSession(t *testing.T) {
	e := newEnv(t, fastConfig())
	sessions := wallet.NewSessionManager(zap.NewNop().Sugar(), wallet.NewStore(t.TempDir()))
	e.controller.wallet = sessions

	err := e.controller.Initiate("RH-1001", 1)
	assert.True(t, errors.Is(err, clienterr.ErrNoActiveSession))
}

func TestInitiateRejectsSecondTradeInFlight(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.chain.set(true, "")

	require.NoError(t, e.controller.Initiate("RH-1001", 2))
	waitState(t, e.controller, StateAwaitingSignature)

	err := e.controller.Initiate("RH-1001", 2)
	assert.True(t, errors.Is(err, clienterr.ErrDuplicateInFlightTrade))

	require.NoError(t, e.controller.Cancel())
	waitState(t, e.controller, StateCancelled)
}

func TestFullFlowSettles(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.chain.set(true, "")

	require.NoError(t, e.controller.Initiate("RH-1001", 3))

	snap := waitState(t, e.controller, StateAwaitingSignature)
	require.NotNil(t, snap.Terms, "the user reviews exact terms before any signature request")
	assert.True(t, snap.Terms.TotalAmount.Equal(decimal.RequireFromString("76.50")))
	assert.Equal(t, "trade-42", snap.TradeID)
	assert.Zero(t, e.provider.signed(), "no signature request before approval")

	require.NoError(t, e.controller.Approve())
	snap = waitState(t, e.controller, StateSettled)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.Pending)
	assert.Equal(t, 1, e.provider.signed())

	wantOrder := []State{StateIdle, StateCreating, StateAwaitingSignature, StateSubmitting, StateConfirming, StateSettled}
	trs := e.controller.Transitions()
	require.Len(t, trs, len(wantOrder)-1)
	for i, tr := range trs {
		assert.Equal(t, wantOrder[i], tr.From)
		assert.Equal(t, wantOrder[i+1], tr.To, "no state may be skipped")
	}

	e.settle.mu.Lock()
	assert.Equal(t, 1, e.settle.confirmCalls)
	assert.Equal(t, "trade-42", e.settle.lastTradeID)
	assert.NotEmpty(t, e.settle.lastTxHash)
	e.settle.mu.Unlock()

	logged := e.trades.List()
	require.Len(t, logged, 1)
	assert.Equal(t, "trade-42", logged[0].TradeID)
	assert.Equal(t, int64(3), logged[0].Amount)
}

func TestNewTradeAllowedAfterTerminalState(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.chain.set(true, "")

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Approve())
	waitState(t, e.controller, StateSettled)

	require.NoError(t, e.controller.Initiate("RH-1002", 1))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Cancel())
	waitState(t, e.controller, StateCancelled)
}

func TestCancelBeforeApproval(t *testing.T) {
	e := newEnv(t, fastConfig())

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)

	require.NoError(t, e.controller.Cancel())
	snap := waitState(t, e.controller, StateCancelled)
	assert.NotEmpty(t, snap.Error)

	assert.Zero(t, e.provider.signed())
	e.chain.mu.Lock()
	assert.Zero(t, e.chain.submitCalls, "cancellation must happen before anything reaches the chain")
	e.chain.mu.Unlock()
	assert.Empty(t, e.trades.List())
}

func TestCancelOnlyValidWhileAwaitingSignature(t *testing.T) {
	e := newEnv(t, fastConfig())

	require.Error(t, e.controller.Cancel(), "nothing to cancel while idle")
	require.Error(t, e.controller.Approve(), "nothing to approve while idle")
}

func TestUserRejectsWalletSignature(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.provider.signErr = clienterr.Wrap(clienterr.ErrWalletUserRejected, "wallet.sign", nil)

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Approve())

	snap := waitState(t, e.controller, StateCancelled)
	assert.Contains(t, snap.Error, "cancelled")

	e.chain.mu.Lock()
	assert.Zero(t, e.chain.submitCalls)
	e.chain.mu.Unlock()
}

func TestChainRejectionIsFailureNotPending(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.chain.set(false, "InstructionError: insufficient funds")

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Approve())

	snap := waitState(t, e.controller, StateFailed)
	assert.False(t, snap.Pending, "a chain rejection is definitive, not pending")
	assert.Contains(t, snap.Error, "rejected")

	e.settle.mu.Lock()
	assert.Zero(t, e.settle.confirmCalls, "rejected transactions are never reported as settled")
	e.settle.mu.Unlock()
	assert.Empty(t, e.trades.List())
}

func TestConfirmDeadlineReportsPendingThenRequerySettles(t *testing.T) {
	e := newEnv(t, fastConfig())
	// Never confirms within the deadline.
	e.chain.set(false, "")

	require.NoError(t, e.controller.Initiate("RH-1001", 2))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Approve())

	snap := waitState(t, e.controller, StateFailed)
	assert.True(t, snap.Pending, "a deadline pass means unknown outcome, not failure")
	assert.Contains(t, snap.Error, "pending")
	assert.Empty(t, e.trades.List())

	e.settle.mu.Lock()
	confirmsBefore := e.settle.confirmCalls
	e.settle.mu.Unlock()
	assert.Zero(t, confirmsBefore)

	// The transaction lands after the deadline; a re-query finds it.
	e.chain.set(true, "")
	snap, err := e.controller.Requery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSettled, snap.State)
	assert.False(t, snap.Pending)

	logged := e.trades.List()
	require.Len(t, logged, 1)
	assert.Equal(t, "trade-42", logged[0].TradeID)

	// The handle is consumed.
	_, err = e.controller.Requery(context.Background())
	assert.Error(t, err)
}

func TestRequeryWithoutTimedOutTrade(t *testing.T) {
	e := newEnv(t, fastConfig())
	_, err := e.controller.Requery(context.Background())
	assert.Error(t, err)
}

func TestSettlementDeclineFailsFlow(t *testing.T) {
	e := newEnv(t, fastConfig())
	e.chain.set(true, "")
	e.settle.mu.Lock()
	e.settle.confirmSuccess = false
	e.settle.mu.Unlock()

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)
	require.NoError(t, e.controller.Approve())

	waitState(t, e.controller, StateFailed)
	assert.Empty(t, e.trades.List(), "a declined settlement must never be logged as a completed purchase")
}

func TestApprovalTimeoutCancels(t *testing.T) {
	cfg := fastConfig()
	cfg.ApprovalTimeout = 100 * time.Millisecond
	e := newEnv(t, cfg)

	require.NoError(t, e.controller.Initiate("RH-1001", 1))
	waitState(t, e.controller, StateAwaitingSignature)

	waitState(t, e.controller, StateCancelled)
	assert.Zero(t, e.provider.signed())
}
