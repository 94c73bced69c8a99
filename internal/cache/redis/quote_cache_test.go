package redis

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespace(t *testing.T) {
	c := &Client{prefix: "otcdesk:"}
	assert.Equal(t, "otcdesk:kv:seen:0xab", c.key("kv", "seen:0xab"))
	assert.Equal(t, "otcdesk:kv:", c.key("kv", ""))

	qc := NewQuoteCache(c, time.Minute)
	token := common.HexToAddress("0x00000000000000000000000000000000000000Ab")
	assert.Equal(t, "otcdesk:quote:0x00000000000000000000000000000000000000ab", qc.quoteKey(token))
}

func TestParseQuote(t *testing.T) {
	token := common.HexToAddress("0x01")
	q, ok := parseQuote(token, map[string]string{
		"price": "1.25",
		"liq":   "50000",
		"h24":   "-3.5",
		"ts":    "1700000000000000000",
	})
	require.True(t, ok)
	assert.Equal(t, 1.25, q.PriceUSD)
	assert.Equal(t, 50000.0, q.LiquidityUSD)
	assert.Equal(t, -3.5, q.Change.H24)
	assert.Zero(t, q.Change.M5)
	assert.True(t, q.Available)
	assert.Equal(t, int64(1_700_000_000), q.FetchedAt.Unix())

	_, ok = parseQuote(token, map[string]string{"liq": "1"})
	assert.False(t, ok)
}
