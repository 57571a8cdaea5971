package settlement

import "github.com/shopspring/decimal"

// -------- HTTP DTOs (must match the settlement service) --------

type createTradeRequest struct {
	AssetID       string `json:"asset_id"`
	Amount        int64  `json:"amount"`
	WalletAddress string `json:"wallet_address"`
}

type createTradeResponse struct {
	TradeID             string          `json:"trade_id"`
	UnsignedPayload     string          `json:"unsigned_payload"`
	CounterpartyAddress string          `json:"counterparty_address"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
}

type confirmTradeRequest struct {
	TradeID string `json:"trade_id"`
	TxHash  string `json:"tx_hash"`
}

type confirmTradeResponse struct {
	Success       bool            `json:"success"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// -------- results handed to callers --------

// CreatedTrade is a server-allocated trade plus the exact settlement
// terms the user must review before any signature is requested.
type CreatedTrade struct {
	TradeID             string
	UnsignedPayload     []byte
	CounterpartyAddress string
	UnitPrice           decimal.Decimal
	Subtotal            decimal.Decimal
	PlatformFee         decimal.Decimal
	TotalAmount         decimal.Decimal
}

// Confirmation is the settlement service's acknowledgement of an
// on-chain transaction hash. Confirming the same trade id twice returns
// the same result; the server keys settlement by trade id.
type Confirmation struct {
	Success       bool
	SettledAmount decimal.Decimal
}
