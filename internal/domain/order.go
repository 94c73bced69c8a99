package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PercentScale is the fixed-point scale of RemainingExecutionPercentage:
// 1e18 means the order is untouched, 0 means it has been fully filled.
var PercentScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// OrderStatus is the raw on-ledger status ordinal.
type OrderStatus uint8

const (
	OrderStatusActive    OrderStatus = 0
	OrderStatusCancelled OrderStatus = 1
	OrderStatusCompleted OrderStatus = 2
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusActive:
		return "active"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the statuses the ledger emits.
func (s OrderStatus) Valid() bool {
	return s <= OrderStatusCompleted
}

// DisplayStatus is the view-time lifecycle classification. It differs from
// OrderStatus only in that an Active order past its expiration is Inactive.
type DisplayStatus string

const (
	DisplayActive    DisplayStatus = "active"
	DisplayInactive  DisplayStatus = "inactive"
	DisplayCompleted DisplayStatus = "completed"
	DisplayCancelled DisplayStatus = "cancelled"
)

// BuyLeg is one acceptable (token, amount) pair on the buy side of an order.
// TokenIndex resolves to an address through the token directory.
type BuyLeg struct {
	TokenIndex *big.Int `json:"token_index"`
	Amount     *big.Int `json:"amount"`
}

// OrderRecord is a ledger order as last read from the chain. Records are
// never mutated locally; a status change is only observed through a re-read.
type OrderRecord struct {
	OrderID                      *big.Int       `json:"order_id"`
	Owner                        common.Address `json:"owner"`
	SellToken                    common.Address `json:"sell_token"`
	SellAmount                   *big.Int       `json:"sell_amount"`
	BuyLegs                      []BuyLeg       `json:"buy_legs"`
	ExpirationTime               int64          `json:"expiration_time"`
	Status                       OrderStatus    `json:"status"`
	RemainingExecutionPercentage *big.Int       `json:"remaining_execution_percentage"`
	LastUpdateTime               int64          `json:"last_update_time"`
}

// Expired reports whether the order's expiration lies strictly before now.
func (o OrderRecord) Expired(now time.Time) bool {
	return o.ExpirationTime < now.Unix()
}

// DisplayStatus derives the view classification at the given instant.
func (o OrderRecord) DisplayStatus(now time.Time) DisplayStatus {
	switch o.Status {
	case OrderStatusCancelled:
		return DisplayCancelled
	case OrderStatusCompleted:
		return DisplayCompleted
	default:
		if o.Expired(now) {
			return DisplayInactive
		}
		return DisplayActive
	}
}

// FillFraction returns 1 - remaining/1e18, the share of the order already
// executed, in [0, 1].
func (o OrderRecord) FillFraction() float64 {
	if o.RemainingExecutionPercentage == nil {
		return 0
	}
	rem := new(big.Rat).SetFrac(o.RemainingExecutionPercentage, PercentScale)
	f, _ := rem.Float64()
	fill := 1 - f
	if fill < 0 {
		return 0
	}
	if fill > 1 {
		return 1
	}
	return fill
}

// RemainingAmount scales a full amount by the order's remaining percentage,
// rounding down.
func (o OrderRecord) RemainingAmount(full *big.Int) *big.Int {
	if full == nil || o.RemainingExecutionPercentage == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(full, o.RemainingExecutionPercentage)
	return out.Quo(out, PercentScale)
}

// Key returns the decimal order id used as a map key and in URLs.
func (o OrderRecord) Key() string {
	if o.OrderID == nil {
		return ""
	}
	return o.OrderID.String()
}
