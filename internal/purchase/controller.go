// Package purchase drives a buy intent through create, sign, submit,
// confirm, and settle. The Controller is a serialized state machine: one
// active trade at a time, every transition recorded, every suspension
// point bounded by a timeout so an unresponsive wallet or network can
// never park the flow in a non-terminal state.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
	"github.com/rwahub-io/rwahub-client/internal/connproxy"
	"github.com/rwahub-io/rwahub-client/internal/settlement"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
)

// Config bounds the flow's suspension points.
type Config struct {
	// ConfirmDeadline caps confirmation polling. Hitting it does not
	// mean the trade failed on chain - the snapshot reports "pending"
	// and the signature can be re-queried.
	ConfirmDeadline time.Duration
	// ApprovalTimeout caps how long the flow waits for the user to
	// approve the displayed settlement terms.
	ApprovalTimeout time.Duration
	// SignTimeout caps the wallet signature request.
	SignTimeout time.Duration
	// SubmitTimeout caps the transaction submission call.
	SubmitTimeout time.Duration
	// PollInterval is the initial confirmation polling backoff.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConfirmDeadline <= 0 {
		c.ConfirmDeadline = 60 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 5 * time.Minute
	}
	if c.SignTimeout <= 0 {
		c.SignTimeout = 90 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// requeryHandle survives a confirmation timeout so the outcome can be
// checked again after the PendingTrade itself is gone.
type requeryHandle struct {
	tradeID   string
	signature solana.Signature
	total     SettledTrade
}

// Controller owns at most one PendingTrade. A second Initiate while one
// is active is rejected synchronously, never queued.
type Controller struct {
	ctx    context.Context
	cfg    Config
	log    *zap.SugaredLogger
	wallet *wallet.SessionManager
	settle *settlement.Client
	conn   *connproxy.Proxy
	trades *TradeLog

	mu          sync.Mutex
	state       State
	trade       *PendingTrade
	snap        Snapshot
	transitions []Transition
	decision    chan bool
	requery     *requeryHandle
	observers   []func(Snapshot)
}

// NewController wires the flow's collaborators. ctx bounds the lifetime
// of all in-flight trades; cancelling it fails any active flow.
func NewController(
	ctx context.Context,
	log *zap.SugaredLogger,
	sessions *wallet.SessionManager,
	settle *settlement.Client,
	conn *connproxy.Proxy,
	trades *TradeLog,
	cfg Config,
) *Controller {
	cfg.applyDefaults()
	return &Controller{
		ctx:    ctx,
		cfg:    cfg,
		log:    log,
		wallet: sessions,
		settle: settle,
		conn:   conn,
		trades: trades,
		state:  StateIdle,
		snap:   Snapshot{State: StateIdle},
	}
}

// OnChange registers an observer for flow snapshots. Observers run
// synchronously after each committed transition.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns the current flow status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Transitions returns the transition log of the current or most recent
// flow, oldest first.
func (c *Controller) Transitions() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition{}, c.transitions...)
}

// Initiate starts a purchase. Guard rejections (InvalidAmount,
// NoActiveSession, DuplicateInFlightTrade) are synchronous and issue no
// network calls; on acceptance the flow runs asynchronously and progress
// is observable through Snapshot/OnChange.
func (c *Controller) Initiate(assetID string, amount int64) error {
	if amount <= 0 {
		return clienterr.Wrapf(clienterr.ErrInvalidAmount, "purchase.Initiate", "amount %d", amount)
	}
	sess := c.wallet.Session()
	if !sess.Connected {
		return clienterr.Wrap(clienterr.ErrNoActiveSession, "purchase.Initiate", nil)
	}

	c.mu.Lock()
	if c.trade != nil {
		c.mu.Unlock()
		return clienterr.Wrap(clienterr.ErrDuplicateInFlightTrade, "purchase.Initiate", nil)
	}
	c.trade = &PendingTrade{AssetID: assetID, Amount: amount}
	c.state = StateIdle
	c.snap = Snapshot{State: StateIdle}
	c.transitions = nil
	c.requery = nil
	decision := make(chan bool, 1)
	c.decision = decision
	c.toStateLocked(StateCreating, nil)
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()

	notify(observers, snap)
	c.log.Infow("purchase initiated", "asset", assetID, "amount", amount)

	go c.run(sess, decision)
	return nil
}

// Approve releases a flow waiting in AWAITING_SIGNATURE.
func (c *Controller) Approve() error {
	return c.decide(true)
}

// Cancel declines a flow waiting in AWAITING_SIGNATURE. Cancellation is
// only possible before submission; once SUBMITTING has begun the outcome
// belongs to the chain and the settlement service.
func (c *Controller) Cancel() error {
	return c.decide(false)
}

func (c *Controller) decide(approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingSignature || c.decision == nil {
		return fmt.Errorf("no trade awaiting approval (state %s)", c.state)
	}
	select {
	case c.decision <- approve:
		c.decision = nil
		return nil
	default:
		return fmt.Errorf("decision already recorded")
	}
}

// SettledTrades lists completed purchases from the persistent log.
func (c *Controller) SettledTrades() []SettledTrade {
	return c.trades.List()
}

func (c *Controller) run(sess wallet.Session, decision chan bool) {
	ctx := c.ctx
	c.mu.Lock()
	trade := c.trade
	c.mu.Unlock()

	// CREATING: allocate the trade server-side.
	created, err := c.settle.CreateTrade(ctx, trade.AssetID, trade.Amount, sess.Address)
	if err != nil {
		c.finishFailed(err)
		return
	}

	terms := Terms{
		AssetID:             trade.AssetID,
		Amount:              trade.Amount,
		UnitPrice:           created.UnitPrice,
		Subtotal:            created.Subtotal,
		PlatformFee:         created.PlatformFee,
		TotalAmount:         created.TotalAmount,
		CounterpartyAddress: created.CounterpartyAddress,
	}
	c.transition(StateAwaitingSignature, func() {
		trade.TradeID = created.TradeID
		trade.UnitPrice = created.UnitPrice
		trade.Subtotal = created.Subtotal
		trade.PlatformFee = created.PlatformFee
		trade.TotalAmount = created.TotalAmount
		trade.CounterpartyAddress = created.CounterpartyAddress
		trade.UnsignedPayload = created.UnsignedPayload
		c.snap.TradeID = created.TradeID
		c.snap.Terms = &terms
	})

	// AWAITING_SIGNATURE: the user reviews the exact settlement terms.
	approvalTimer := time.NewTimer(c.cfg.ApprovalTimeout)
	defer approvalTimer.Stop()

	var approved bool
	select {
	case <-ctx.Done():
		c.finishFailed(ctx.Err())
		return
	case <-approvalTimer.C:
		c.finishCancelled(clienterr.Wrapf(clienterr.ErrWalletUserRejected,
			"purchase.approve", "approval timed out"))
		return
	case approved = <-decision:
	}
	if !approved {
		c.finishCancelled(clienterr.Wrap(clienterr.ErrWalletUserRejected, "purchase.approve", nil))
		return
	}

	// Still AWAITING_SIGNATURE: request the wallet signature.
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(trade.UnsignedPayload))
	if err != nil {
		c.finishFailed(fmt.Errorf("decode unsigned payload: %w", err))
		return
	}
	provider := c.wallet.Provider()
	if provider == nil {
		c.finishFailed(clienterr.Wrap(clienterr.ErrNoActiveSession, "purchase.sign", nil))
		return
	}

	signCtx, cancelSign := context.WithTimeout(ctx, c.cfg.SignTimeout)
	signed, err := provider.SignTransaction(signCtx, tx)
	cancelSign()
	if err != nil {
		if errors.Is(err, clienterr.ErrWalletUserRejected) {
			// Declining the wallet prompt leaves the allocated trade id
			// unsettled server-side; the server expires it.
			c.finishCancelled(err)
		} else {
			c.finishFailed(err)
		}
		return
	}

	// SUBMITTING: past this point the flow cannot be cancelled.
	c.transition(StateSubmitting, nil)

	serialized, err := signed.MarshalBinary()
	if err != nil {
		c.finishFailed(fmt.Errorf("serialize signed transaction: %w", err))
		return
	}
	submitCtx, cancelSubmit := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	sig, err := c.conn.SendTransaction(submitCtx, serialized, false)
	cancelSubmit()
	if err != nil {
		c.finishFailed(err)
		return
	}

	c.transition(StateConfirming, func() {
		trade.Signature = sig
		c.snap.Signature = sig.String()
	})

	if err := c.pollConfirmation(ctx, sig); err != nil {
		if errors.Is(err, clienterr.ErrConfirmTimeout) {
			c.finishTimedOut(trade, sig, err)
		} else {
			c.finishFailed(err)
		}
		return
	}

	conf, err := c.settle.ConfirmTrade(ctx, trade.TradeID, sig.String())
	if err != nil {
		c.finishFailed(err)
		return
	}
	if !conf.Success {
		c.finishFailed(clienterr.Wrapf(clienterr.ErrConfirmRejected,
			"purchase.confirm", "settlement declined trade %s", trade.TradeID))
		return
	}

	c.finishSettled(trade, sig)
}

var errNotYetConfirmed = errors.New("not yet confirmed")

// pollConfirmation probes transaction status with exponential backoff
// until the chain confirms, the chain rejects, or ConfirmDeadline
// passes. A deadline pass maps to ConfirmTimeout, never ConfirmRejected.
func (c *Controller) pollConfirmation(ctx context.Context, sig solana.Signature) error {
	backoff := retry.WithCappedDuration(10*time.Second, retry.NewExponential(c.cfg.PollInterval))
	backoff = retry.WithMaxDuration(c.cfg.ConfirmDeadline, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := c.conn.ConfirmTransaction(ctx, sig)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status.Failed() {
			return clienterr.Wrapf(clienterr.ErrConfirmRejected, "purchase.confirm", "%s", status.Err)
		}
		if !status.Confirmed {
			return retry.RetryableError(errNotYetConfirmed)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, clienterr.ErrConfirmRejected) {
		return err
	}
	return clienterr.Wrap(clienterr.ErrConfirmTimeout, "purchase.confirm", err)
}

// Requery re-checks a trade whose confirmation polling timed out. It may
// move the outcome from pending to settled (or to rejected) long after
// the original flow ended.
func (c *Controller) Requery(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	handle := c.requery
	c.mu.Unlock()
	if handle == nil {
		return c.Snapshot(), fmt.Errorf("no timed-out trade to re-query")
	}

	status, err := c.conn.ConfirmTransaction(ctx, handle.signature)
	if err != nil {
		return c.Snapshot(), err
	}
	if status.Failed() {
		c.mu.Lock()
		c.requery = nil
		c.snap.Pending = false
		c.snap.Error = clienterr.UserMessage(clienterr.Wrapf(clienterr.ErrConfirmRejected,
			"purchase.requery", "%s", status.Err))
		observers, snap := c.observersAndSnapLocked()
		c.mu.Unlock()
		notify(observers, snap)
		return snap, nil
	}
	if !status.Confirmed {
		return c.Snapshot(), nil
	}

	conf, err := c.settle.ConfirmTrade(ctx, handle.tradeID, handle.signature.String())
	if err != nil {
		return c.Snapshot(), err
	}
	if !conf.Success {
		return c.Snapshot(), clienterr.Wrapf(clienterr.ErrConfirmRejected,
			"purchase.requery", "settlement declined trade %s", handle.tradeID)
	}

	entry := handle.total
	entry.SettledAt = time.Now().UTC()
	if err := c.trades.Append(entry); err != nil {
		c.log.Warnw("recording settled trade failed", "error", err)
	}

	c.mu.Lock()
	c.requery = nil
	c.toStateLocked(StateSettled, func() {
		c.snap.Pending = false
		c.snap.Error = ""
	})
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)

	c.log.Infow("timed-out trade settled on re-query", "trade", handle.tradeID)
	return snap, nil
}

// transition commits a state change and notifies observers. mutate runs
// under the lock with the state already advanced.
func (c *Controller) transition(to State, mutate func()) {
	c.mu.Lock()
	c.toStateLocked(to, mutate)
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)
}

func (c *Controller) toStateLocked(to State, mutate func()) {
	c.transitions = append(c.transitions, Transition{From: c.state, To: to, At: time.Now().UTC()})
	c.state = to
	c.snap.State = to
	if mutate != nil {
		mutate()
	}
}

func (c *Controller) observersAndSnapLocked() ([]func(Snapshot), Snapshot) {
	return append([]func(Snapshot){}, c.observers...), c.snap
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

func (c *Controller) finishSettled(trade *PendingTrade, sig solana.Signature) {
	entry := SettledTrade{
		TradeID:   trade.TradeID,
		AssetID:   trade.AssetID,
		Amount:    trade.Amount,
		Total:     trade.TotalAmount,
		Signature: sig.String(),
		SettledAt: time.Now().UTC(),
	}
	if err := c.trades.Append(entry); err != nil {
		c.log.Warnw("recording settled trade failed", "error", err)
	}
	// Balances changed on chain; drop cached reads.
	c.conn.InvalidateReads()

	c.mu.Lock()
	c.trade = nil
	c.decision = nil
	c.toStateLocked(StateSettled, func() {
		c.snap.Terms = nil
		c.snap.Error = ""
	})
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)

	c.log.Infow("purchase settled", "trade", entry.TradeID, "signature", entry.Signature)
}

func (c *Controller) finishCancelled(cause error) {
	c.mu.Lock()
	c.trade = nil
	c.decision = nil
	c.toStateLocked(StateCancelled, func() {
		c.snap.Terms = nil
		c.snap.Error = clienterr.UserMessage(cause)
	})
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)

	c.log.Infow("purchase cancelled", "reason", cause)
}

func (c *Controller) finishFailed(cause error) {
	c.mu.Lock()
	c.trade = nil
	c.decision = nil
	c.toStateLocked(StateFailed, func() {
		c.snap.Terms = nil
		c.snap.Error = clienterr.UserMessage(cause)
	})
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)

	c.log.Warnw("purchase failed", "error", cause)
}

// finishTimedOut is the bounded-deadline variant of failure: the trade
// record is released but a re-query handle survives, and the snapshot
// says "pending" rather than claiming the trade failed.
func (c *Controller) finishTimedOut(trade *PendingTrade, sig solana.Signature, cause error) {
	handle := &requeryHandle{
		tradeID:   trade.TradeID,
		signature: sig,
		total: SettledTrade{
			TradeID:   trade.TradeID,
			AssetID:   trade.AssetID,
			Amount:    trade.Amount,
			Total:     trade.TotalAmount,
			Signature: sig.String(),
		},
	}

	c.mu.Lock()
	c.trade = nil
	c.decision = nil
	c.requery = handle
	c.toStateLocked(StateFailed, func() {
		c.snap.Terms = nil
		c.snap.Pending = true
		c.snap.Error = clienterr.UserMessage(cause)
	})
	observers, snap := c.observersAndSnapLocked()
	c.mu.Unlock()
	notify(observers, snap)

	c.log.Warnw("confirmation deadline passed, trade pending",
		"trade", handle.tradeID, "signature", sig.String())
}
