package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// QuoteCache implements domain.QuoteCache. Each token is a hash at
// "quote:{address}" with fields price, liq, m5, h1, h6, h24 and ts (unix
// nanoseconds), expiring after the configured TTL.
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache whose entries live for ttl.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{c: c, ttl: ttl}
}

func (qc *QuoteCache) quoteKey(token common.Address) string {
	return qc.c.key("quote", strings.ToLower(token.Hex()))
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetQuotes writes every available quote in one pipeline.
func (qc *QuoteCache) SetQuotes(ctx context.Context, quotes []domain.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	pipe := qc.c.rdb.Pipeline()
	for _, q := range quotes {
		if !q.Available {
			continue
		}
		key := qc.quoteKey(q.Token)
		pipe.HSet(ctx, key, map[string]interface{}{
			"price": formatFloat(q.PriceUSD),
			"liq":   formatFloat(q.LiquidityUSD),
			"m5":    formatFloat(q.Change.M5),
			"h1":    formatFloat(q.Change.H1),
			"h6":    formatFloat(q.Change.H6),
			"h24":   formatFloat(q.Change.H24),
			"ts":    strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
		})
		if qc.ttl > 0 {
			pipe.Expire(ctx, key, qc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuotes returns cached quotes; tokens without a usable entry are omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, tokens []common.Address) (map[common.Address]domain.PriceQuote, error) {
	out := make(map[common.Address]domain.PriceQuote, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	pipe := qc.c.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.MapStringStringCmd, len(tokens))
	for _, t := range tokens {
		cmds[t] = pipe.HGetAll(ctx, qc.quoteKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, ok := parseQuote(t, vals)
		if ok {
			out[t] = q
		}
	}
	return out, nil
}

func parseQuote(token common.Address, vals map[string]string) (domain.PriceQuote, bool) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceQuote{}, false
	}
	num := func(field string) float64 {
		f, _ := strconv.ParseFloat(vals[field], 64)
		return f
	}
	q := domain.PriceQuote{
		Token:        token,
		PriceUSD:     price,
		LiquidityUSD: num("liq"),
		Change:       domain.PriceChange{M5: num("m5"), H1: num("h1"), H6: num("h6"), H24: num("h24")},
		Available:    true,
	}
	if ns, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.FetchedAt = time.Unix(0, ns).UTC()
	}
	return q, true
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
