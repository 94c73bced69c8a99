package executor

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// MaxLegAmounts returns what each buy leg can still absorb:
// amount * remainingExecutionPercentage / 1e18. A leg with no amount counts
// as zero.
func MaxLegAmounts(o domain.OrderRecord) []*big.Int {
	rem := o.RemainingExecutionPercentage
	if rem == nil {
		rem = new(big.Int)
	}
	out := make([]*big.Int, len(o.BuyLegs))
	for i, leg := range o.BuyLegs {
		if leg.Amount == nil {
			out[i] = new(big.Int)
			continue
		}
		v := new(big.Int).Mul(leg.Amount, rem)
		out[i] = v.Quo(v, domain.PercentScale)
	}
	return out
}

// Rescale sets leg legIndex to amount and scales every other leg by the same
// fraction of its own maximum, rounding down. amount is clamped to the leg's
// maximum. Entry j of the result satisfies out[j]*max[i] <= max[j]*amount.
func Rescale(o domain.OrderRecord, legIndex int, amount *big.Int) ([]*big.Int, error) {
	if legIndex < 0 || legIndex >= len(o.BuyLegs) {
		return nil, fmt.Errorf("%w: leg %d out of range", domain.ErrInvalidIntent, legIndex)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", domain.ErrInvalidIntent)
	}
	maxes := MaxLegAmounts(o)
	pivot := maxes[legIndex]
	if pivot.Sign() == 0 {
		return nil, fmt.Errorf("%w: leg %d has nothing remaining", domain.ErrInvalidIntent, legIndex)
	}
	if amount.Cmp(pivot) > 0 {
		amount = pivot
	}

	out := make([]*big.Int, len(maxes))
	for j, m := range maxes {
		if j == legIndex {
			out[j] = new(big.Int).Set(amount)
			continue
		}
		v := new(big.Int).Mul(m, amount)
		out[j] = v.Quo(v, pivot)
	}
	return out, nil
}
