package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerEventKind names the contract events the engine replays.
type LedgerEventKind string

const (
	EventOrderExecuted LedgerEventKind = "OrderExecuted"
	EventOrderUpdated  LedgerEventKind = "OrderUpdated"
)

// LogEntry is a decoded contract event.
type LogEntry struct {
	Kind    LedgerEventKind `json:"kind"`
	OrderID *big.Int        `json:"order_id"`
	// Actor is the executor for OrderExecuted and the owner for OrderUpdated.
	Actor       common.Address `json:"actor"`
	TokenIndex  *big.Int       `json:"token_index,omitempty"`
	Amount      *big.Int       `json:"amount,omitempty"`
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   time.Time      `json:"timestamp"`
}

// LogQuery selects events of one kind from FromBlock to the chain head,
// optionally constrained on the indexed actor topic.
type LogQuery struct {
	Kind      LedgerEventKind
	Actor     *common.Address
	FromBlock uint64
}
