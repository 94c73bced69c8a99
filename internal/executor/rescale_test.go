package executor

import (
	"math/big"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

func TestMaxLegAmounts(t *testing.T) {
	o := testOrder()
	maxes := MaxLegAmounts(o)
	require.Len(t, maxes, 2)
	assert.Equal(t, int64(1000), maxes[0].Int64())
	assert.Equal(t, int64(2000), maxes[1].Int64())
}

func TestMaxLegAmounts_NilAmountIsZero(t *testing.T) {
	o := testOrder()
	o.BuyLegs[0].Amount = nil

	maxes := MaxLegAmounts(o)
	require.Len(t, maxes, 2)
	assert.Zero(t, maxes[0].Sign())
	assert.Equal(t, int64(2000), maxes[1].Int64())

	_, err := Rescale(o, 0, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)

	out, err := Rescale(o, 1, big.NewInt(1000))
	require.NoError(t, err)
	assert.Zero(t, out[0].Sign())
	assert.Equal(t, int64(1000), out[1].Int64())
}

func TestRescale(t *testing.T) {
	o := testOrder()

	out, err := Rescale(o, 1, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(250), out[0].Int64())
	assert.Equal(t, int64(500), out[1].Int64())

	out, err = Rescale(o, 0, big.NewInt(5000))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out[0].Int64(), "clamped to max")
	assert.Equal(t, int64(2000), out[1].Int64())

	_, err = Rescale(o, 3, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)

	o.RemainingExecutionPercentage = new(big.Int)
	_, err = Rescale(o, 0, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestRescale_ProportionalLaw(t *testing.T) {
	faker := gofakeit.New(7)
	for i := 0; i < 300; i++ {
		legs := faker.IntRange(2, 4)
		o := domain.OrderRecord{
			OrderID:                      big.NewInt(int64(i)),
			RemainingExecutionPercentage: new(big.Int).Set(domain.PercentScale),
		}
		for j := 0; j < legs; j++ {
			o.BuyLegs = append(o.BuyLegs, domain.BuyLeg{
				TokenIndex: big.NewInt(int64(j)),
				Amount:     big.NewInt(int64(faker.IntRange(1, 1_000_000))),
			})
		}
		pivot := faker.IntRange(0, legs-1)
		amount := big.NewInt(int64(faker.IntRange(0, 1_000_000)))

		out, err := Rescale(o, pivot, amount)
		require.NoError(t, err)

		maxes := MaxLegAmounts(o)
		set := out[pivot]
		assert.LessOrEqual(t, set.Cmp(maxes[pivot]), 0)
		for j := range out {
			// out[j]*max[p] <= max[j]*set < (out[j]+1)*max[p]
			lhs := new(big.Int).Mul(out[j], maxes[pivot])
			mid := new(big.Int).Mul(maxes[j], set)
			rhs := new(big.Int).Mul(new(big.Int).Add(out[j], big.NewInt(1)), maxes[pivot])
			assert.LessOrEqual(t, lhs.Cmp(mid), 0)
			assert.Equal(t, -1, mid.Cmp(rhs))
		}
	}
}
