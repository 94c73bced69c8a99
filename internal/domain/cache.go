package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteCache short-circuits price feed lookups.
type QuoteCache interface {
	GetQuotes(ctx context.Context, tokens []common.Address) (map[common.Address]PriceQuote, error)
	SetQuotes(ctx context.Context, quotes []PriceQuote) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub for engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventHistory exposes recent bus payloads per channel, newest first.
type EventHistory interface {
	Recent(ctx context.Context, channel string, count int) ([][]byte, error)
}

// LockManager hands out named, expiring locks shared between replicas.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}
