package tokens

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc = common.HexToAddress("0x1000000000000000000000000000000000000001")
	weth = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func testDirectory() *Directory {
	return New([]Entry{
		{Index: 0, Address: "0x0000000000000000000000000000000000000000", Ticker: "ETH", Decimals: 18, Native: true, Domain: "ethereum"},
		{Index: 1, Address: usdc.Hex(), Ticker: "USDC", Decimals: 6, Classes: []string{"stable"}, Domain: "ethereum"},
		{Index: 2, Address: weth.Hex(), Ticker: "WETH", Decimals: 18, Domain: "ethereum"},
	})
}

func TestNativeSentinelsCollapse(t *testing.T) {
	d := testDirectory()

	zero := d.Resolve(common.Address{})
	eeee := d.Resolve(NativeSentinel)

	assert.Equal(t, zero, eeee)
	assert.Equal(t, "ETH", zero.Ticker)
	assert.True(t, zero.Native)

	idx, ok := d.IndexOf(NativeSentinel)
	require.True(t, ok)
	assert.Equal(t, int64(0), idx.Int64())
}

func TestUnknownTokenPlaceholder(t *testing.T) {
	d := testDirectory()
	stranger := common.HexToAddress("0xdeadbeef00000000000000000000000000000000")

	desc := d.Resolve(stranger)
	assert.Equal(t, "UNKNOWN", desc.Ticker)
	assert.Equal(t, int32(18), desc.Decimals)
	assert.False(t, desc.Known)
	assert.Equal(t, stranger, desc.Address)

	byIdx := d.ByIndex(big.NewInt(99))
	assert.Equal(t, "UNKNOWN", byIdx.Ticker)
	assert.Contains(t, byIdx.DisplayName, "99")
}

func TestIndexRoundTrip(t *testing.T) {
	d := testDirectory()

	addr, ok := d.AddressOf(big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, usdc, addr)

	idx, ok := d.IndexOf(usdc)
	require.True(t, ok)
	assert.Equal(t, int64(1), idx.Int64())

	assert.True(t, d.InClass(usdc, "stable"))
	assert.False(t, d.InClass(weth, "stable"))
	assert.Len(t, d.All(), 3)
}
