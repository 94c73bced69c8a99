// Package executor drives a single counter-offer from intent to settlement:
// optional token approval, the execute call, and receipt confirmation.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/otcdesk/internal/chain"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
)

// Ledger is the subset of the chain client the executor needs.
type Ledger interface {
	Sender() (common.Address, bool)
	Contract() common.Address
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Submit(ctx context.Context, call domain.TxCall) (common.Hash, error)
	AwaitReceipt(ctx context.Context, tx common.Hash, timeout time.Duration) (domain.Receipt, error)
}

// Orders looks up the current view of an order and re-reads it after a fill.
type Orders interface {
	Get(id *big.Int) (domain.OrderRecord, bool)
	RefreshOrder(ctx context.Context, id *big.Int) (domain.OrderRecord, error)
}

// TokenIndex maps buy-leg indexes to token addresses.
type TokenIndex interface {
	AddressOf(index *big.Int) (common.Address, bool)
	Canonical(addr common.Address) common.Address
}

// Observer is told about every state transition of an attempt.
type Observer func(attemptID string, from, to domain.TradeState)

// Config tunes approval polling and confirmation waits.
type Config struct {
	ApprovalPollAttempts int
	ApprovalPollInterval time.Duration
	ConfirmationTimeout  time.Duration
}

// DefaultConfig polls the allowance 30 times a second apart and waits a
// minute for the execute receipt.
func DefaultConfig() Config {
	return Config{
		ApprovalPollAttempts: 30,
		ApprovalPollInterval: time.Second,
		ConfirmationTimeout:  time.Minute,
	}
}

// Executor runs trade attempts. Attempts on different orders may run
// concurrently; nothing serialises attempts on the same order locally.
type Executor struct {
	ledger    Ledger
	orders    Orders
	tokens    TokenIndex
	cfg       Config
	audit     domain.AuditStore
	bus       domain.SignalBus
	metrics   *metrics.Metrics
	observers []Observer
	logger    *slog.Logger
}

// New creates an Executor. Zero config fields fall back to DefaultConfig.
func New(ledger Ledger, orders Orders, dir TokenIndex, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.ApprovalPollAttempts <= 0 {
		cfg.ApprovalPollAttempts = def.ApprovalPollAttempts
	}
	if cfg.ApprovalPollInterval <= 0 {
		cfg.ApprovalPollInterval = def.ApprovalPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = def.ConfirmationTimeout
	}
	return &Executor{
		ledger:  ledger,
		orders:  orders,
		tokens:  dir,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// SetAudit records every finished attempt in store.
func (e *Executor) SetAudit(store domain.AuditStore) { e.audit = store }

// SetBus publishes trade_settled / trade_failed events on bus.
func (e *Executor) SetBus(bus domain.SignalBus) { e.bus = bus }

// Observe registers fn for state transitions. Must be called before Execute.
func (e *Executor) Observe(fn Observer) { e.observers = append(e.observers, fn) }

// attempt is the mutable state of one Execute call.
type attempt struct {
	result domain.TradeResult
	log    *slog.Logger
}

// fundingLeg is the buy leg the taker actually pays with.
type fundingLeg struct {
	index  int
	token  common.Address
	amount *big.Int
	native bool
}

// Execute submits intent against the ledger and blocks until the attempt
// settles or fails. On failure the returned error is a *TradeError and the
// result's State is TradeFailed.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	a := &attempt{
		result: domain.TradeResult{
			AttemptID: uuid.New().String(),
			OrderID:   intent.OrderID,
			State:     domain.TradeIdle,
			StartedAt: time.Now().UTC(),
		},
	}
	a.log = e.logger.With(
		slog.String("attempt_id", a.result.AttemptID),
		slog.String("order_id", bigString(intent.OrderID)),
	)

	err := e.run(ctx, a, intent)
	if err != nil {
		te := Classify(err)
		a.result.Error = te.Message
		e.transition(a, domain.TradeFailed)
		e.finish(ctx, a, te)
		return a.result, te
	}
	e.finish(ctx, a, nil)
	return a.result, nil
}

func (e *Executor) run(ctx context.Context, a *attempt, intent domain.TradeIntent) error {
	sender, ok := e.ledger.Sender()
	if !ok {
		return domain.ErrWalletNotConnected
	}
	if intent.OrderID == nil {
		return invalid("missing order id")
	}
	order, ok := e.orders.Get(intent.OrderID)
	if !ok {
		return invalid("order %s is not in the catalog", intent.OrderID)
	}
	if st := order.DisplayStatus(time.Now()); st != domain.DisplayActive {
		return invalid("order %s is %s", intent.OrderID, st)
	}

	leg, err := e.pickLeg(order, intent)
	if err != nil {
		return err
	}
	a.result.Token = leg.token
	a.result.TokenIndex = new(big.Int).Set(order.BuyLegs[leg.index].TokenIndex)
	a.result.Amount = new(big.Int).Set(leg.amount)
	a.log = a.log.With(
		slog.String("token", leg.token.Hex()),
		slog.String("amount", leg.amount.String()),
	)

	var value *big.Int
	if leg.native {
		value = leg.amount
	} else if err := e.ensureAllowance(ctx, a, sender, leg); err != nil {
		return err
	}

	e.transition(a, domain.TradeExecuting)
	call, err := chain.ExecuteCall(e.ledger.Contract(), order.OrderID, a.result.TokenIndex, leg.amount, value)
	if err != nil {
		return err
	}
	tx, err := e.ledger.Submit(ctx, call)
	if err != nil {
		return err
	}
	a.result.ExecuteTx = &tx

	e.transition(a, domain.TradeConfirming)
	receipt, err := e.ledger.AwaitReceipt(ctx, tx, e.cfg.ConfirmationTimeout)
	if err != nil {
		return err
	}
	a.result.Receipt = &receipt
	if !receipt.Success {
		return fmt.Errorf("%w: receipt status failed in block %d", domain.ErrSettlementReverted, receipt.BlockNumber)
	}

	e.transition(a, domain.TradeSettled)
	if _, err := e.orders.RefreshOrder(ctx, order.OrderID); err != nil {
		a.log.Warn("post-trade order refresh failed", slog.String("error", err.Error()))
	}
	return nil
}

// pickLeg validates every offered amount and returns the first buy leg, in
// order, with a positive offer.
func (e *Executor) pickLeg(order domain.OrderRecord, intent domain.TradeIntent) (fundingLeg, error) {
	maxes := MaxLegAmounts(order)
	offered := make(map[common.Address]*big.Int, len(intent.Offered))
	for addr, amt := range intent.Offered {
		if amt == nil {
			continue
		}
		if amt.Sign() < 0 {
			return fundingLeg{}, invalid("negative amount for %s", addr.Hex())
		}
		offered[e.tokens.Canonical(addr)] = amt
	}

	legTokens := make(map[common.Address]int, len(order.BuyLegs))
	var picked *fundingLeg
	for i, leg := range order.BuyLegs {
		addr, ok := e.tokens.AddressOf(leg.TokenIndex)
		if !ok {
			continue
		}
		addr = e.tokens.Canonical(addr)
		legTokens[addr] = i
		amt, ok := offered[addr]
		if !ok || amt.Sign() == 0 {
			continue
		}
		if amt.Cmp(maxes[i]) > 0 {
			return fundingLeg{}, invalid("offered %s exceeds remaining %s for leg %d", amt, maxes[i], i)
		}
		if picked == nil {
			picked = &fundingLeg{index: i, token: addr, amount: amt, native: tokens.IsNative(addr)}
		}
	}
	for addr, amt := range offered {
		if _, ok := legTokens[addr]; !ok && amt.Sign() > 0 {
			return fundingLeg{}, invalid("token %s is not accepted by this order", addr.Hex())
		}
	}
	if picked == nil {
		return fundingLeg{}, invalid("no positive offer for any buy leg")
	}
	if picked.token == e.tokens.Canonical(order.SellToken) {
		return fundingLeg{}, domain.ErrSameToken
	}
	return *picked, nil
}

// ensureAllowance approves the exchange when the current allowance is short.
// Not observing the new allowance in time is logged and tolerated; the
// execute call is attempted anyway.
func (e *Executor) ensureAllowance(ctx context.Context, a *attempt, sender common.Address, leg fundingLeg) error {
	spender := e.ledger.Contract()
	current, err := e.ledger.Allowance(ctx, leg.token, sender, spender)
	if err != nil {
		return err
	}
	if current.Cmp(leg.amount) >= 0 {
		return nil
	}

	e.transition(a, domain.TradeApproving)
	call, err := chain.ApproveCall(leg.token, spender, leg.amount)
	if err != nil {
		return err
	}
	tx, err := e.ledger.Submit(ctx, call)
	if err != nil {
		return err
	}
	a.result.ApprovalTx = &tx
	a.log.Info("approval submitted", slog.String("tx", tx.Hex()))

	ticker := time.NewTicker(e.cfg.ApprovalPollInterval)
	defer ticker.Stop()
	for i := 0; i < e.cfg.ApprovalPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		got, err := e.ledger.Allowance(ctx, leg.token, sender, spender)
		if err != nil {
			a.log.Debug("allowance poll failed", slog.String("error", err.Error()))
			continue
		}
		if got.Cmp(leg.amount) >= 0 {
			return nil
		}
	}
	a.log.Warn("approval not observed before poll limit; executing anyway",
		slog.Int("attempts", e.cfg.ApprovalPollAttempts),
	)
	return nil
}

func (e *Executor) transition(a *attempt, to domain.TradeState) {
	from := a.result.State
	a.result.State = to
	a.log.Debug("trade state", slog.String("from", string(from)), slog.String("to", string(to)))
	for _, fn := range e.observers {
		fn(a.result.AttemptID, from, to)
	}
}

// finish stamps the result and fans it out to metrics, audit and the bus.
func (e *Executor) finish(ctx context.Context, a *attempt, te *TradeError) {
	a.result.CompletedAt = time.Now().UTC()

	outcome := "settled"
	event := domain.EventTradeSettled
	if te != nil {
		outcome = string(te.Kind)
		event = domain.EventTradeFailed
		a.log.Warn("trade failed",
			slog.String("kind", string(te.Kind)),
			slog.String("error", te.Error()),
		)
	} else {
		a.log.Info("trade settled",
			slog.String("tx", a.result.ExecuteTx.Hex()),
			slog.Uint64("block", a.result.Receipt.BlockNumber),
		)
	}
	e.metrics.Trade(outcome)

	if e.audit != nil {
		detail := map[string]any{
			"attempt_id": a.result.AttemptID,
			"order_id":   bigString(a.result.OrderID),
			"state":      string(a.result.State),
			"token":      a.result.Token.Hex(),
			"amount":     bigString(a.result.Amount),
		}
		if a.result.ExecuteTx != nil {
			detail["tx"] = a.result.ExecuteTx.Hex()
		}
		if te != nil {
			detail["kind"] = string(te.Kind)
			detail["error"] = te.Message
		}
		if err := e.audit.Log(ctx, event, detail); err != nil {
			a.log.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}

	if e.bus != nil {
		payload, err := json.Marshal(domain.BusEvent{Type: event, At: a.result.CompletedAt, Data: a.result})
		if err == nil {
			err = e.bus.Publish(ctx, domain.ChannelTrades, payload)
		}
		if err != nil {
			a.log.Warn("publish trade event failed", slog.String("error", err.Error()))
		}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
