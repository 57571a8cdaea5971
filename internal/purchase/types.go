package purchase

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// State is the flow position of the active trade. The state field is the
// single authoritative progress marker; nothing infers progress by
// polling the wallet or the network.
type State string

const (
	StateIdle              State = "IDLE"
	StateCreating          State = "CREATING"
	StateAwaitingSignature State = "AWAITING_SIGNATURE"
	StateSubmitting        State = "SUBMITTING"
	StateConfirming        State = "CONFIRMING"
	StateSettled           State = "SETTLED"
	StateFailed            State = "FAILED"
	StateCancelled         State = "CANCELLED"
)

// Terminal reports whether the flow has ended in this state.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateCancelled
}

// PendingTrade is the in-memory record of one purchase attempt, owned
// exclusively by the Controller from creation until the flow terminates.
type PendingTrade struct {
	TradeID             string
	AssetID             string
	Amount              int64
	UnitPrice           decimal.Decimal
	Subtotal            decimal.Decimal
	PlatformFee         decimal.Decimal
	TotalAmount         decimal.Decimal
	CounterpartyAddress string
	UnsignedPayload     []byte
	Signature           solana.Signature
}

// Terms is what the user must see and approve before any wallet
// signature is requested: the exact settlement terms, not a generic
// confirm prompt.
type Terms struct {
	AssetID             string          `json:"asset_id"`
	Amount              int64           `json:"amount"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	CounterpartyAddress string          `json:"counterparty_address"`
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Snapshot is the externally visible flow status.
type Snapshot struct {
	State State  `json:"state"`
	Terms *Terms `json:"terms,omitempty"`

	TradeID   string `json:"trade_id,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Pending is set when the only problem is that confirmation polling
	// hit its deadline: the trade may still settle and can be re-queried.
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SettledTrade is one completed purchase, kept in the local trade log.
type SettledTrade struct {
	TradeID   string          `json:"trade_id"`
	AssetID   string          `json:"asset_id"`
	Amount    int64           `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	Signature string          `json:"signature"`
	SettledAt time.Time       `json:"settled_at"`
}
