// Package pricefeed fetches spot USD quotes from a DexScreener-compatible
// HTTP API. Missing quotes are normal and never reported as errors.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
)

// maxBatch is the largest address list the upstream accepts per request.
const maxBatch = 30

// Config configures the feed client.
type Config struct {
	BaseURL string
	// Chain restricts pairs to one chain id (e.g. "ethereum"); empty accepts all.
	Chain     string
	BatchSize int
	Timeout   time.Duration
}

// Client is the price feed.
type Client struct {
	baseURL    string
	chain      string
	batchSize  int
	httpClient *http.Client
	cache      domain.QuoteCache
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Client. cache may be nil.
func New(cfg Config, cache domain.QuoteCache, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatch {
		cfg.BatchSize = maxBatch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		chain:      cfg.Chain,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		metrics:    m,
		logger:     logger.With(slog.String("component", "pricefeed")),
		now:        time.Now,
	}
}

type tokenRef struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type pair struct {
	ChainID     string             `json:"chainId"`
	BaseToken   tokenRef           `json:"baseToken"`
	QuoteToken  tokenRef           `json:"quoteToken"`
	PriceUSD    string             `json:"priceUsd"`
	PriceChange map[string]float64 `json:"priceChange"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type tokensResponse struct {
	Pairs []pair `json:"pairs"`
}

// Quote fetches a single token.
func (c *Client) Quote(ctx context.Context, token common.Address) (domain.PriceQuote, bool) {
	return c.Snapshot(ctx, []common.Address{token}).Quote(token)
}

// Snapshot quotes every token in tokens. Cached quotes are served first;
// a failed batch only leaves its own tokens unavailable.
func (c *Client) Snapshot(ctx context.Context, tokens []common.Address) domain.PriceSnapshot {
	quotes := make(map[common.Address]domain.PriceQuote, len(tokens))
	want := dedupe(tokens)

	if c.cache != nil && len(want) > 0 {
		cached, err := c.cache.GetQuotes(ctx, want)
		if err != nil {
			c.logger.WarnContext(ctx, "quote cache read failed", slog.String("error", err.Error()))
		}
		for addr, q := range cached {
			quotes[addr] = q
		}
	}

	var missing []common.Address
	for _, addr := range want {
		if _, ok := quotes[addr]; !ok {
			missing = append(missing, addr)
		}
	}

	var fresh []domain.PriceQuote
	for i := 0; i < len(missing); i += c.batchSize {
		batch := missing[i:min(i+c.batchSize, len(missing))]
		got, err := c.fetch(ctx, batch)
		c.metrics.PriceRequest(err)
		if err != nil {
			c.logger.WarnContext(ctx, "price batch failed",
				slog.Int("tokens", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, q := range got {
			quotes[q.Token] = q
			fresh = append(fresh, q)
		}
	}

	if c.cache != nil && len(fresh) > 0 {
		if err := c.cache.SetQuotes(ctx, fresh); err != nil {
			c.logger.WarnContext(ctx, "quote cache write failed", slog.String("error", err.Error()))
		}
	}
	return domain.NewPriceSnapshot(quotes, c.now().UTC())
}

func (c *Client) fetch(ctx context.Context, batch []common.Address) ([]domain.PriceQuote, error) {
	parts := make([]string, len(batch))
	for i, a := range batch {
		parts[i] = strings.ToLower(a.Hex())
	}
	url := c.baseURL + "/latest/dex/tokens/" + strings.Join(parts, ",")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pricefeed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("pricefeed: decode: %w", err)
	}
	return c.pickBest(batch, payload.Pairs), nil
}

// pickBest chooses, per requested token, the most liquid pair in which the
// token is the base asset and the USD price parses.
func (c *Client) pickBest(batch []common.Address, pairs []pair) []domain.PriceQuote {
	wanted := make(map[common.Address]bool, len(batch))
	for _, a := range batch {
		wanted[a] = true
	}
	fetchedAt := c.now().UTC()

	best := make(map[common.Address]domain.PriceQuote)
	for _, p := range pairs {
		if c.chain != "" && !strings.EqualFold(p.ChainID, c.chain) {
			continue
		}
		if !common.IsHexAddress(p.BaseToken.Address) {
			continue
		}
		addr := common.HexToAddress(p.BaseToken.Address)
		if !wanted[addr] {
			continue
		}
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price < 0 {
			continue
		}
		if cur, ok := best[addr]; ok && cur.LiquidityUSD >= p.Liquidity.USD {
			continue
		}
		best[addr] = domain.PriceQuote{
			Token:    addr,
			PriceUSD: price,
			Change: domain.PriceChange{
				M5:  p.PriceChange["m5"],
				H1:  p.PriceChange["h1"],
				H6:  p.PriceChange["h6"],
				H24: p.PriceChange["h24"],
			},
			LiquidityUSD: p.Liquidity.USD,
			Available:    true,
			FetchedAt:    fetchedAt,
		}
	}

	out := make([]domain.PriceQuote, 0, len(best))
	for _, a := range batch {
		if q, ok := best[a]; ok {
			out = append(out, q)
		}
	}
	return out
}

func dedupe(in []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(in))
	out := make([]common.Address, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
