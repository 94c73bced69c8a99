package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeIntent is a counter-offer against one order: the amount the taker
// offers per buy-side token, in smallest units.
type TradeIntent struct {
	OrderID *big.Int                    `json:"order_id"`
	Offered map[common.Address]*big.Int `json:"offered"`
}

// TradeState is a node in the trade execution state machine.
type TradeState string

const (
	TradeIdle       TradeState = "idle"
	TradeApproving  TradeState = "approving"
	TradeExecuting  TradeState = "executing"
	TradeConfirming TradeState = "confirming"
	TradeSettled    TradeState = "settled"
	TradeFailed     TradeState = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s TradeState) Terminal() bool {
	return s == TradeSettled || s == TradeFailed
}

// TxCall is an unsigned contract call.
type TxCall struct {
	To    common.Address `json:"to"`
	Data  []byte         `json:"data"`
	Value *big.Int       `json:"value,omitempty"`
}

// Receipt is the ledger's verdict on a submitted transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Success     bool        `json:"success"`
	GasUsed     uint64      `json:"gas_used"`
}

// TradeResult summarises one finished trade attempt.
type TradeResult struct {
	AttemptID   string         `json:"attempt_id"`
	OrderID     *big.Int       `json:"order_id"`
	State       TradeState     `json:"state"`
	Token       common.Address `json:"token"`
	TokenIndex  *big.Int       `json:"token_index"`
	Amount      *big.Int       `json:"amount"`
	ApprovalTx  *common.Hash   `json:"approval_tx,omitempty"`
	ExecuteTx   *common.Hash   `json:"execute_tx,omitempty"`
	Receipt     *Receipt       `json:"receipt,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Error       string         `json:"error,omitempty"`
}
