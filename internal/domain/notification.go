package domain

import (
	"math/big"
	"time"
)

// NotificationKind distinguishes fills from owner updates.
type NotificationKind string

const (
	NotificationFilled  NotificationKind = "filled"
	NotificationUpdated NotificationKind = "updated"
)

// Notification is one viewer-facing event derived from the ledger log.
type Notification struct {
	OrderID *big.Int         `json:"order_id"`
	Kind    NotificationKind `json:"kind"`
	// Role is "taker" when the viewer executed against someone else's order
	// and "maker" when the viewer's own order was filled or updated.
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	TxRef     string    `json:"tx_ref"`
	IsRead    bool      `json:"is_read"`
}
