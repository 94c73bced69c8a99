package valuation

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
)

var (
	weth  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	tka   = common.HexToAddress("0x0000000000000000000000000000000000000010")
	tkb   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	usdx  = common.HexToAddress("0x0000000000000000000000000000000000000012")
	stk   = common.HexToAddress("0x0000000000000000000000000000000000000013")
	bweth = common.HexToAddress("0x0000000000000000000000000000000000000014")
)

const (
	idxNative = iota
	idxWETH
	idxTKA
	idxTKB
	idxUSDX
	idxSTK
	idxBWETH
)

func testValuator() *Valuator {
	dir := tokens.New([]tokens.Entry{
		{Index: idxNative, Ticker: "ETH", Decimals: 18, Native: true, Domain: "ethereum"},
		{Index: idxWETH, Address: weth.Hex(), Ticker: "WETH", Decimals: 18, Domain: "ethereum"},
		{Index: idxTKA, Address: tka.Hex(), Ticker: "TKA", Decimals: 8, Domain: "ethereum"},
		{Index: idxTKB, Address: tkb.Hex(), Ticker: "TKB", Decimals: 8, Domain: "ethereum"},
		{Index: idxUSDX, Address: usdx.Hex(), Ticker: "USDX", Decimals: 6},
		{Index: idxSTK, Address: stk.Hex(), Ticker: "STK", Decimals: 18, Domain: "ethereum"},
		{Index: idxBWETH, Address: bweth.Hex(), Ticker: "bWETH", Decimals: 18, Domain: "arbitrum"},
	})
	return New(dir, Config{
		StablePegs:  []common.Address{usdx},
		NativeAlias: weth,
		Backing: map[common.Address]BackingRef{
			stk: {BackingToken: weth, PerToken: decimal.RequireFromString("1.1")},
		},
	})
}

func prices(p map[common.Address]float64) domain.PriceSnapshot {
	quotes := make(map[common.Address]domain.PriceQuote, len(p))
	for addr, usd := range p {
		quotes[addr] = domain.PriceQuote{Token: addr, PriceUSD: usd, Available: true}
	}
	return domain.NewPriceSnapshot(quotes, time.Unix(0, 0))
}

func units(n int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
}

func orderOf(sell common.Address, sellAmt *big.Int, legs ...domain.BuyLeg) domain.OrderRecord {
	return domain.OrderRecord{
		OrderID:                      big.NewInt(1),
		SellToken:                    sell,
		SellAmount:                   sellAmt,
		BuyLegs:                      legs,
		RemainingExecutionPercentage: domain.PercentScale,
	}
}

func leg(idx int64, amt *big.Int) domain.BuyLeg {
	return domain.BuyLeg{TokenIndex: big.NewInt(idx), Amount: amt}
}

func TestEqualValueLegsHaveZeroMarketDiscount(t *testing.T) {
	v := testValuator()
	o := orderOf(tka, units(1000, 8), leg(idxTKB, units(500, 8)))
	p := prices(map[common.Address]float64{tka: 0.01, tkb: 0.02})

	val := v.ValueOf(o, p)
	require.NotNil(t, val.SellUSD)
	require.NotNil(t, val.MinBuyUSD)
	assert.Equal(t, 10.0, *val.SellUSD)
	assert.Equal(t, 10.0, *val.MinBuyUSD)

	d := v.Discount(o, p)
	require.NotNil(t, d.VsMarketPct)
	assert.Equal(t, 0.0, *d.VsMarketPct)
	assert.Nil(t, d.VsBackingPct)
}

func TestMarketDiscountNeverDividesByZero(t *testing.T) {
	v := testValuator()
	p := prices(map[common.Address]float64{tka: 0.01, tkb: 0.02})

	zeroSell := orderOf(tka, big.NewInt(0), leg(idxTKB, units(1, 8)))
	assert.Nil(t, v.Discount(zeroSell, p).VsMarketPct)

	freeToken := orderOf(tka, units(5, 8), leg(idxTKB, units(1, 8)))
	assert.Nil(t, v.Discount(freeToken, prices(map[common.Address]float64{tka: 0, tkb: 1})).VsMarketPct)

	unpriced := orderOf(tka, units(5, 8), leg(idxTKB, units(1, 8)))
	assert.Nil(t, v.Discount(unpriced, prices(map[common.Address]float64{tkb: 1})).VsMarketPct)
	assert.Nil(t, v.ValueOf(unpriced, prices(map[common.Address]float64{tkb: 1})).SellUSD)
}

func TestMinBuyIgnoresUnpricedLegs(t *testing.T) {
	v := testValuator()
	o := orderOf(tka, units(1000, 8),
		leg(idxTKB, units(400, 8)),
		leg(idxWETH, units(1, 18)),
		leg(99, units(1, 18)),
	)
	p := prices(map[common.Address]float64{tka: 0.01, tkb: 0.02, weth: 3})

	val := v.ValueOf(o, p)
	require.Len(t, val.BuyUSD, 3)
	assert.InDelta(t, 8.0, *val.BuyUSD[0], 1e-9)
	assert.InDelta(t, 3.0, *val.BuyUSD[1], 1e-9)
	assert.Nil(t, val.BuyUSD[2])
	assert.InDelta(t, 3.0, *val.MinBuyUSD, 1e-9)

	d := v.Discount(o, p)
	assert.InDelta(t, -70.0, *d.VsMarketPct, 1e-9)

	none := v.ValueOf(orderOf(tka, units(1, 8), leg(99, units(1, 8))), p)
	assert.Nil(t, none.MinBuyUSD)
}

func TestCanonicalPriceOverrides(t *testing.T) {
	v := testValuator()
	p := prices(map[common.Address]float64{usdx: 0.97, weth: 2500})

	peg, ok := v.Price(usdx, p)
	require.True(t, ok)
	assert.True(t, peg.Equal(decimal.NewFromInt(1)))

	native, ok := v.Price(common.Address{}, p)
	require.True(t, ok)
	assert.True(t, native.Equal(decimal.NewFromInt(2500)))

	sentinel, ok := v.Price(tokens.NativeSentinel, p)
	require.True(t, ok)
	assert.True(t, sentinel.Equal(native))
}

func TestBackingDiscountDirectRatio(t *testing.T) {
	v := testValuator()
	o := orderOf(stk, units(10, 18), leg(idxWETH, units(12, 18)))

	d := v.Discount(o, prices(nil))
	require.NotNil(t, d.VsBackingPct)
	assert.InDelta(t, 100.0/11.0, *d.VsBackingPct, 1e-9)
}

func TestBackingDiscountViaUSD(t *testing.T) {
	v := testValuator()
	o := orderOf(stk, units(10, 18), leg(idxUSDX, units(22000, 6)))

	d := v.Discount(o, prices(map[common.Address]float64{weth: 2000}))
	require.NotNil(t, d.VsBackingPct)
	assert.InDelta(t, 0.0, *d.VsBackingPct, 1e-9)

	noRef := v.Discount(o, prices(nil))
	assert.Nil(t, noRef.VsBackingPct)
}

func TestBackingSuppressedAcrossDomains(t *testing.T) {
	v := testValuator()
	o := orderOf(stk, units(10, 18), leg(idxWETH, units(12, 18)), leg(idxBWETH, units(12, 18)))

	d := v.Discount(o, prices(map[common.Address]float64{weth: 2000, bweth: 2000, stk: 2100}))
	assert.Nil(t, d.VsBackingPct)
	assert.NotNil(t, d.VsMarketPct)
}

func TestValueOfOffer(t *testing.T) {
	v := testValuator()
	o := orderOf(tka, units(1000, 8), leg(idxTKB, units(500, 8)))
	intent := domain.TradeIntent{
		OrderID: big.NewInt(1),
		Offered: map[common.Address]*big.Int{tkb: units(250, 8)},
	}

	out := v.ValueOfOffer(o, intent, prices(map[common.Address]float64{tka: 0.01, tkb: 0.02}))
	require.NotNil(t, out.OfferedUSD)
	require.NotNil(t, out.ReceivedUSD)
	assert.Equal(t, 0, out.SellReceived.Cmp(units(500, 8)))
	assert.Equal(t, 5.0, *out.OfferedUSD)
	assert.Equal(t, 5.0, *out.ReceivedUSD)
}

func TestSellUSDSortKey(t *testing.T) {
	v := testValuator()
	key := v.SellUSD(prices(map[common.Address]float64{tka: 0.01}))

	usd, ok := key(orderOf(tka, units(1000, 8)))
	require.True(t, ok)
	assert.Equal(t, 10.0, usd)

	_, ok = key(orderOf(tkb, units(1000, 8)))
	assert.False(t, ok)
}

func TestQuoteTargets(t *testing.T) {
	v := testValuator()
	orders := []domain.OrderRecord{
		orderOf(common.Address{}, units(1, 18), leg(idxUSDX, units(1, 6)), leg(idxTKA, units(1, 8))),
		orderOf(stk, units(1, 18), leg(idxTKA, units(1, 8)), leg(42, units(1, 8))),
	}

	assert.Equal(t, []common.Address{weth, tka, stk}, v.QuoteTargets(orders))
}
