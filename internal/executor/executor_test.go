package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
)

var (
	exchange = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	taker    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	maker    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	usdc     = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000000c02")
)

type fakeLedger struct {
	mu          sync.Mutex
	connected   bool
	allowance   *big.Int
	approvedAt  int // allowance becomes sufficient after this many polls; <0 never
	polls       int
	submitted   []domain.TxCall
	submitErr   error
	receipt     domain.Receipt
	receiptErr  error
	allowanceTo common.Address
}

func (f *fakeLedger) Sender() (common.Address, bool) { return taker, f.connected }
func (f *fakeLedger) Contract() common.Address      { return exchange }

func (f *fakeLedger) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowanceTo = spender
	if len(f.submitted) > 0 {
		f.polls++
		if f.approvedAt >= 0 && f.polls >= f.approvedAt {
			return new(big.Int).Lsh(big.NewInt(1), 128), nil
		}
	}
	return f.allowance, nil
}

func (f *fakeLedger) Submit(_ context.Context, call domain.TxCall) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submitted = append(f.submitted, call)
	return common.BigToHash(big.NewInt(int64(len(f.submitted)))), nil
}

func (f *fakeLedger) AwaitReceipt(_ context.Context, tx common.Hash, _ time.Duration) (domain.Receipt, error) {
	if f.receiptErr != nil {
		return domain.Receipt{}, f.receiptErr
	}
	r := f.receipt
	r.TxHash = tx
	return r, nil
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.OrderRecord
	refreshed []string
}

func (f *fakeOrders) Get(id *big.Int) (domain.OrderRecord, bool) {
	o, ok := f.orders[id.String()]
	return o, ok
}

func (f *fakeOrders) RefreshOrder(_ context.Context, id *big.Int) (domain.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, id.String())
	return f.orders[id.String()], nil
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	b.channels = append(b.channels, channel)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

type recordingAudit struct {
	events []string
}

func (a *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testDirectory() *tokens.Directory {
	return tokens.New([]tokens.Entry{
		{Index: 0, Address: tokens.NativeSentinel.Hex(), Ticker: "ETH", Decimals: 18, Native: true},
		{Index: 1, Address: usdc.Hex(), Ticker: "USDC", Decimals: 6},
		{Index: 2, Address: weth.Hex(), Ticker: "WETH", Decimals: 18},
	})
}

// testOrder sells WETH for either native (index 0) or USDC (index 1),
// half filled.
func testOrder() domain.OrderRecord {
	return domain.OrderRecord{
		OrderID:    big.NewInt(7),
		Owner:      maker,
		SellToken:  weth,
		SellAmount: big.NewInt(1000),
		BuyLegs: []domain.BuyLeg{
			{TokenIndex: big.NewInt(0), Amount: big.NewInt(2000)},
			{TokenIndex: big.NewInt(1), Amount: big.NewInt(4000)},
		},
		ExpirationTime:               time.Now().Add(time.Hour).Unix(),
		Status:                       domain.OrderStatusActive,
		RemainingExecutionPercentage: new(big.Int).Div(domain.PercentScale, big.NewInt(2)),
	}
}

func newTestExecutor(t *testing.T, ledger *fakeLedger, order domain.OrderRecord) (*Executor, *fakeOrders, *[]domain.TradeState) {
	t.Helper()
	orders := &fakeOrders{orders: map[string]domain.OrderRecord{order.OrderID.String(): order}}
	cfg := Config{
		ApprovalPollAttempts: 3,
		ApprovalPollInterval: time.Millisecond,
		ConfirmationTimeout:  time.Second,
	}
	e := New(ledger, orders, testDirectory(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var states []domain.TradeState
	var mu sync.Mutex
	e.Observe(func(_ string, _, to domain.TradeState) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	})
	return e, orders, &states
}

func intent(token common.Address, amount int64) domain.TradeIntent {
	return domain.TradeIntent{
		OrderID: big.NewInt(7),
		Offered: map[common.Address]*big.Int{token: big.NewInt(amount)},
	}
}

func TestExecute_NativeLegSkipsApproval(t *testing.T) {
	ledger := &fakeLedger{connected: true, allowance: new(big.Int), approvedAt: -1, receipt: domain.Receipt{Success: true, BlockNumber: 9}}
	e, orders, states := newTestExecutor(t, ledger, testOrder())

	res, err := e.Execute(context.Background(), intent(tokens.NativeSentinel, 500))
	require.NoError(t, err)

	assert.Equal(t, domain.TradeSettled, res.State)
	assert.Equal(t, []domain.TradeState{domain.TradeExecuting, domain.TradeConfirming, domain.TradeSettled}, *states)
	require.Len(t, ledger.submitted, 1)
	assert.Equal(t, exchange, ledger.submitted[0].To)
	assert.Equal(t, int64(500), ledger.submitted[0].Value.Int64())
	assert.Nil(t, res.ApprovalTx)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, uint64(9), res.Receipt.BlockNumber)
	assert.Equal(t, []string{"7"}, orders.refreshed)
	assert.NotEmpty(t, res.AttemptID)
}

func TestExecute_ApprovesShortAllowance(t *testing.T) {
	ledger := &fakeLedger{connected: true, allowance: big.NewInt(10), approvedAt: 2, receipt: domain.Receipt{Success: true}}
	e, _, states := newTestExecutor(t, ledger, testOrder())
	audit := &recordingAudit{}
	bus := &recordingBus{}
	e.SetAudit(audit)
	e.SetBus(bus)

	res, err := e.Execute(context.Background(), intent(usdc, 1500))
	require.NoError(t, err)

	assert.Equal(t, []domain.TradeState{
		domain.TradeApproving, domain.TradeExecuting, domain.TradeConfirming, domain.TradeSettled,
	}, *states)
	require.Len(t, ledger.submitted, 2)
	assert.Equal(t, usdc, ledger.submitted[0].To)
	assert.Equal(t, exchange, ledger.allowanceTo)
	assert.Nil(t, ledger.submitted[1].Value)
	require.NotNil(t, res.ApprovalTx)
	assert.Equal(t, []string{domain.EventTradeSettled}, audit.events)
	assert.Equal(t, []string{domain.ChannelTrades}, bus.channels)
}

func TestExecute_ApprovalPollTimeoutStillExecutes(t *testing.T) {
	ledger := &fakeLedger{connected: true, allowance: new(big.Int), approvedAt: -1, receipt: domain.Receipt{Success: true}}
	e, _, states := newTestExecutor(t, ledger, testOrder())

	res, err := e.Execute(context.Background(), intent(usdc, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSettled, res.State)
	assert.Equal(t, 3, ledger.polls)
	assert.Contains(t, *states, domain.TradeApproving)
	assert.Len(t, ledger.submitted, 2)
}

func TestExecute_SufficientAllowanceSkipsApproval(t *testing.T) {
	ledger := &fakeLedger{connected: true, allowance: big.NewInt(1_000_000), approvedAt: -1, receipt: domain.Receipt{Success: true}}
	e, _, states := newTestExecutor(t, ledger, testOrder())

	_, err := e.Execute(context.Background(), intent(usdc, 100))
	require.NoError(t, err)
	assert.NotContains(t, *states, domain.TradeApproving)
	assert.Len(t, ledger.submitted, 1)
}

func TestExecute_ConfirmationTimeout(t *testing.T) {
	ledger := &fakeLedger{
		connected:  true,
		allowance:  new(big.Int),
		approvedAt: -1,
		receiptErr: domain.ErrConfirmationTimeout,
	}
	e, orders, states := newTestExecutor(t, ledger, testOrder())

	res, err := e.Execute(context.Background(), intent(tokens.NativeSentinel, 100))
	require.Error(t, err)

	var te *TradeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConfirmationTimeout, te.Kind)
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	assert.Equal(t, domain.TradeFailed, res.State)
	assert.Equal(t, []domain.TradeState{domain.TradeExecuting, domain.TradeConfirming, domain.TradeFailed}, *states)
	assert.NotNil(t, res.ExecuteTx)
	assert.Empty(t, orders.refreshed)
}

func TestExecute_Failures(t *testing.T) {
	order := testOrder()
	expired := testOrder()
	expired.ExpirationTime = time.Now().Add(-time.Minute).Unix()
	sameToken := testOrder()
	sameToken.SellToken = usdc

	tests := []struct {
		name   string
		ledger *fakeLedger
		order  domain.OrderRecord
		intent domain.TradeIntent
		kind   Kind
	}{
		{
			name:   "wallet not connected",
			ledger: &fakeLedger{},
			order:  order,
			intent: intent(usdc, 1),
			kind:   KindWalletNotConnected,
		},
		{
			name:   "no positive leg",
			ledger: &fakeLedger{connected: true},
			order:  order,
			intent: intent(usdc, 0),
			kind:   KindInvalidIntent,
		},
		{
			name:   "exceeds remaining",
			ledger: &fakeLedger{connected: true},
			order:  order,
			intent: intent(usdc, 2001),
			kind:   KindInvalidIntent,
		},
		{
			name:   "token not in order",
			ledger: &fakeLedger{connected: true},
			order:  order,
			intent: domain.TradeIntent{OrderID: big.NewInt(7), Offered: map[common.Address]*big.Int{usdc: big.NewInt(1), weth: big.NewInt(1)}},
			kind:   KindInvalidIntent,
		},
		{
			name:   "expired order",
			ledger: &fakeLedger{connected: true},
			order:  expired,
			intent: intent(usdc, 1),
			kind:   KindInvalidIntent,
		},
		{
			name:   "same token",
			ledger: &fakeLedger{connected: true},
			order:  sameToken,
			intent: intent(usdc, 1),
			kind:   KindSameToken,
		},
		{
			name:   "user rejected",
			ledger: &fakeLedger{connected: true, submitErr: errors.New("MetaMask Tx Signature: User denied transaction signature.")},
			order:  order,
			intent: intent(tokens.NativeSentinel, 1),
			kind:   KindUserRejected,
		},
		{
			name:   "receipt failed",
			ledger: &fakeLedger{connected: true, receipt: domain.Receipt{Success: false}},
			order:  order,
			intent: intent(tokens.NativeSentinel, 1),
			kind:   KindSettlementReverted,
		},
		{
			name:   "unknown",
			ledger: &fakeLedger{connected: true, submitErr: errors.New("nonce too low")},
			order:  order,
			intent: intent(tokens.NativeSentinel, 1),
			kind:   KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ledger.approvedAt = -1
			e, _, _ := newTestExecutor(t, tt.ledger, tt.order)
			res, err := e.Execute(context.Background(), tt.intent)
			require.Error(t, err)
			var te *TradeError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, domain.TradeFailed, res.State)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestExecute_UnknownOrder(t *testing.T) {
	ledger := &fakeLedger{connected: true}
	e, _, _ := newTestExecutor(t, ledger, testOrder())
	in := intent(usdc, 1)
	in.OrderID = big.NewInt(99)
	_, err := e.Execute(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
	assert.Empty(t, ledger.submitted)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	te := Classify(errors.New(`rpc error: {"code":4001,"message":"denied"}`))
	assert.Equal(t, KindUserRejected, te.Kind)
	assert.Equal(t, userRejectedMessage, te.Message)

	te = Classify(errors.Join(domain.ErrSettlementReverted, errors.New("execution reverted: order expired")))
	assert.Equal(t, KindSettlementReverted, te.Kind)
	assert.Equal(t, "Settlement reverted: order expired", te.Message)
	assert.ErrorIs(t, te, domain.ErrSettlementReverted)

	wrapped := &TradeError{Kind: KindSameToken, Message: "x"}
	assert.Same(t, wrapped, Classify(wrapped))
}
