package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

var (
	tokA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

const pairsJSON = `{"pairs":[
 {"chainId":"ethereum","baseToken":{"address":"%[1]s"},"priceUsd":"1.50","liquidity":{"usd":100},"priceChange":{"h24":-2.5}},
 {"chainId":"ethereum","baseToken":{"address":"%[1]s"},"priceUsd":"1.55","liquidity":{"usd":9000},"priceChange":{"m5":0.1,"h1":0.2,"h6":0.3,"h24":0.4}},
 {"chainId":"bsc","baseToken":{"address":"%[2]s"},"priceUsd":"9.99","liquidity":{"usd":1e9}},
 {"chainId":"ethereum","baseToken":{"address":"0xffffffffffffffffffffffffffffffffffffffff"},"quoteToken":{"address":"%[2]s"},"priceUsd":"3","liquidity":{"usd":5}}
]}`

func TestSnapshotPicksMostLiquidBasePair(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		fmt.Fprintf(w, pairsJSON, strings.ToLower(tokA.Hex()), strings.ToLower(tokB.Hex()))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Chain: "ethereum"}, nil, nil, nil)
	snap := c.Snapshot(context.Background(), []common.Address{tokA, tokB, tokA})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "/latest/dex/tokens/"))
	assert.Equal(t, 2, strings.Count(paths[0], "0x"))

	q, ok := snap.Quote(tokA)
	require.True(t, ok)
	assert.Equal(t, 1.55, q.PriceUSD)
	assert.Equal(t, 9000.0, q.LiquidityUSD)
	assert.Equal(t, 0.4, q.Change.H24)

	_, ok = snap.Quote(tokB)
	assert.False(t, ok, "only quoted on another chain or as the quote token")
	assert.Equal(t, 1, snap.Len())
}

func TestSnapshotBatchesAndToleratesFailures(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "upstream busy", http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"pairs":[{"baseToken":{"address":"%s"},"priceUsd":"2","liquidity":{"usd":1}}]}`, strings.ToLower(tokC.Hex()))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BatchSize: 2}, nil, nil, nil)
	snap := c.Snapshot(context.Background(), []common.Address{tokA, tokB, tokC})

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	_, ok := snap.Quote(tokA)
	assert.False(t, ok)
	q, ok := snap.Quote(tokC)
	require.True(t, ok)
	assert.Equal(t, 2.0, q.PriceUSD)
}

type memCache struct {
	quotes map[common.Address]domain.PriceQuote
	sets   int
}

func (m *memCache) GetQuotes(_ context.Context, tokens []common.Address) (map[common.Address]domain.PriceQuote, error) {
	out := map[common.Address]domain.PriceQuote{}
	for _, t := range tokens {
		if q, ok := m.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

func (m *memCache) SetQuotes(_ context.Context, quotes []domain.PriceQuote) error {
	m.sets++
	for _, q := range quotes {
		m.quotes[q.Token] = q
	}
	return nil
}

func TestSnapshotUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotContains(t, r.URL.Path, strings.ToLower(tokA.Hex()))
		fmt.Fprintf(w, `{"pairs":[{"baseToken":{"address":"%s"},"priceUsd":"4","liquidity":{"usd":1}}]}`, strings.ToLower(tokB.Hex()))
	}))
	defer srv.Close()

	cache := &memCache{quotes: map[common.Address]domain.PriceQuote{
		tokA: {Token: tokA, PriceUSD: 7, Available: true},
	}}
	c := New(Config{BaseURL: srv.URL}, cache, nil, nil)

	snap := c.Snapshot(context.Background(), []common.Address{tokA, tokB})
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, cache.sets)
	assert.Contains(t, cache.quotes, tokB)

	qa, ok := snap.Quote(tokA)
	require.True(t, ok)
	assert.Equal(t, 7.0, qa.PriceUSD)

	q, ok := c.Quote(context.Background(), tokB)
	require.True(t, ok)
	assert.Equal(t, 4.0, q.PriceUSD)
	assert.Equal(t, int32(1), hits.Load())
}
