package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceChange holds percentage price changes over the feed's short windows.
type PriceChange struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// PriceQuote is a spot USD quote for a token. The zero value (Available
// false) is the "unavailable" representation and is not an error.
type PriceQuote struct {
	Token        common.Address `json:"token"`
	PriceUSD     float64        `json:"price_usd"`
	Change       PriceChange    `json:"change"`
	LiquidityUSD float64        `json:"liquidity_usd"`
	Available    bool           `json:"available"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

// PriceSnapshot is an immutable set of quotes taken together.
type PriceSnapshot struct {
	quotes  map[common.Address]PriceQuote
	TakenAt time.Time
}

// NewPriceSnapshot copies quotes into a new snapshot.
func NewPriceSnapshot(quotes map[common.Address]PriceQuote, at time.Time) PriceSnapshot {
	cp := make(map[common.Address]PriceQuote, len(quotes))
	for k, v := range quotes {
		cp[k] = v
	}
	return PriceSnapshot{quotes: cp, TakenAt: at}
}

// Quote returns the quote for token; ok is false when the feed had nothing.
func (s PriceSnapshot) Quote(token common.Address) (PriceQuote, bool) {
	q, ok := s.quotes[token]
	if !ok || !q.Available {
		return PriceQuote{Token: token}, false
	}
	return q, true
}

// Len returns the number of available quotes.
func (s PriceSnapshot) Len() int {
	n := 0
	for _, q := range s.quotes {
		if q.Available {
			n++
		}
	}
	return n
}
