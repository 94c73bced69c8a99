// Package chain is the ledger boundary: contract reads, transaction
// submission, receipt polling and event log replay over an Ethereum JSON-RPC
// endpoint. Every call is rate limited and guarded by a circuit breaker.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
)

// Backend is the subset of *ethclient.Client the ledger client needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Backend = (*ethclient.Client)(nil)

// TxSigner signs transactions on behalf of the connected wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// Config holds the endpoint and policy knobs for Client.
type Config struct {
	RPCURL         string
	ChainID        int64
	Contract       common.Address
	RPS            float64
	Burst          int
	LogChunkBlocks uint64
	ReceiptPoll    time.Duration

	BreakerMaxFailures uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// Client talks to the exchange contract.
type Client struct {
	backend Backend
	closeFn func()
	cfg     Config
	signer  TxSigner
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Dial connects to cfg.RPCURL.
func Dial(ctx context.Context, cfg Config, signer TxSigner, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	c := New(ec, cfg, signer, m, logger)
	c.closeFn = ec.Close
	return c, nil
}

// New wraps an existing backend. signer may be nil for read-only use.
func New(backend Backend, cfg Config, signer TxSigner, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.LogChunkBlocks == 0 {
		cfg.LogChunkBlocks = 5000
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "chain"))

	maxFailures := cfg.BreakerMaxFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		backend: backend,
		cfg:     cfg,
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

// Close releases the underlying RPC connection, if this client owns it.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Contract returns the exchange address.
func (c *Client) Contract() common.Address {
	return c.cfg.Contract
}

// Sender returns the connected wallet address; ok is false when no signer
// is configured.
func (c *Client) Sender() (common.Address, bool) {
	if c.signer == nil {
		return common.Address{}, false
	}
	return c.signer.Address(), true
}

// do runs fn behind the limiter and breaker and returns fn's raw error.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chain: %s: rate limiter: %w", op, err)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	c.metrics.RPC(op, err)
	return err
}

func (c *Client) callView(ctx context.Context, op string, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// Counter reads the contract's order counter: the highest order id issued.
func (c *Client) Counter(ctx context.Context) (*big.Int, error) {
	data, err := exchangeABI.Pack("orderCounter")
	if err != nil {
		return nil, fmt.Errorf("chain: pack orderCounter: %w", err)
	}
	out, err := c.callView(ctx, "orderCounter", c.cfg.Contract, data)
	if err != nil {
		return nil, classify("orderCounter", err)
	}
	vals, err := exchangeABI.Unpack("orderCounter", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("chain: orderCounter: %w: %v", domain.ErrMalformedRecord, err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: orderCounter: %w: unexpected %T", domain.ErrMalformedRecord, vals[0])
	}
	return n, nil
}

// Order reads one order. A revert on read means the slot does not exist.
func (c *Client) Order(ctx context.Context, id *big.Int) (domain.OrderRecord, error) {
	data, err := exchangeABI.Pack("getOrder", id)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("chain: pack getOrder: %w", err)
	}
	out, err := c.callView(ctx, "getOrder", c.cfg.Contract, data)
	if err != nil {
		if isRevert(err) {
			return domain.OrderRecord{}, fmt.Errorf("chain: getOrder %s: %w: %w", id, domain.ErrOrderNotFound, err)
		}
		return domain.OrderRecord{}, classify("getOrder", err)
	}
	rec, err := decodeOrder(id, out)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("chain: getOrder: %w", err)
	}
	return rec, nil
}

// Allowance reads token.allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	out, err := c.callView(ctx, "allowance", token, data)
	if err != nil {
		return nil, classify("allowance", err)
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("chain: allowance: %w: %v", domain.ErrMalformedRecord, err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: allowance: %w: unexpected %T", domain.ErrMalformedRecord, vals[0])
	}
	return n, nil
}

// Head returns the latest block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.do(ctx, "blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.backend.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, classify("blockNumber", err)
	}
	return head, nil
}

func (c *Client) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	var hdr *types.Header
	err := c.do(ctx, "headerByNumber", func(ctx context.Context) error {
		var err error
		hdr, err = c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return time.Time{}, classify("headerByNumber", err)
	}
	if hdr == nil {
		return time.Time{}, errors.New("chain: headerByNumber: empty header")
	}
	return time.Unix(int64(hdr.Time), 0).UTC(), nil
}
