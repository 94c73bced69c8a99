package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

var errFlaky = fmt.Errorf("%w: connection reset", domain.ErrTransport)

type fakeReader struct {
	mu         sync.Mutex
	counter    *big.Int
	counterErr error
	// failures[id] is how many times the read of id fails before succeeding;
	// a negative value fails forever.
	failures  map[int64]int
	remaining map[int64]*big.Int
	calls     map[int64]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeReader(n int64) *fakeReader {
	return &fakeReader{
		counter:   big.NewInt(n),
		failures:  map[int64]int{},
		remaining: map[int64]*big.Int{},
		calls:     map[int64]int{},
	}
}

func (f *fakeReader) Counter(context.Context) (*big.Int, error) {
	if f.counterErr != nil {
		return nil, f.counterErr
	}
	return f.counter, nil
}

func (f *fakeReader) Order(_ context.Context, id *big.Int) (domain.OrderRecord, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if cur <= peak || f.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := id.Int64()
	f.calls[key]++
	if left, ok := f.failures[key]; ok && left != 0 {
		if left > 0 {
			f.failures[key] = left - 1
		}
		return domain.OrderRecord{}, errFlaky
	}
	rem := f.remaining[key]
	if rem == nil {
		rem = domain.PercentScale
	}
	status := domain.OrderStatus(key % 3)
	return domain.OrderRecord{
		OrderID:                      new(big.Int).Set(id),
		Owner:                        common.BigToAddress(big.NewInt(1000 + key)),
		SellAmount:                   big.NewInt(100),
		Status:                       status,
		RemainingExecutionPercentage: rem,
		ExpirationTime:               time.Now().Add(time.Hour).Unix(),
	}, nil
}

func fastConfig() Config {
	return Config{BatchSize: 2, BatchDelay: time.Millisecond, ReadRetries: 0, RetryBackoff: time.Millisecond}
}

func TestRefreshPartialFailure(t *testing.T) {
	r := newFakeReader(5)
	r.failures[2] = -1
	r.failures[4] = -1
	c := New(r, fastConfig(), nil, nil)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Partial)
	assert.ElementsMatch(t, []string{"2", "4"}, snap.FailedIDs)
	require.Len(t, snap.Orders, 3)
	for _, id := range []string{"1", "3", "5"} {
		assert.Contains(t, snap.Orders, id)
	}
	assert.Same(t, snap, c.Snapshot())
}

func TestRefreshIDsWithinCounter(t *testing.T) {
	r := newFakeReader(23)
	c := New(r, Config{BatchSize: 10, BatchDelay: 0}, nil, nil)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Partial)
	require.Len(t, snap.Orders, 23)

	for _, o := range snap.Orders {
		assert.True(t, o.OrderID.Sign() > 0)
		assert.True(t, o.OrderID.Cmp(snap.Counter) <= 0)
	}
	assert.LessOrEqual(t, r.maxInFlight.Load(), int32(10))
	assert.Equal(t, len(snap.Active)+len(snap.Completed)+len(snap.Cancelled), 23)
}

func TestRefreshRetriesTransientReads(t *testing.T) {
	r := newFakeReader(3)
	r.failures[2] = 1
	cfg := fastConfig()
	cfg.ReadRetries = 2
	c := New(r, cfg, nil, nil)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Partial)
	assert.Len(t, snap.Orders, 3)
	assert.Equal(t, 2, r.calls[2])
}

func TestRefreshDoesNotRetryDataErrors(t *testing.T) {
	r := &notFoundReader{fakeReader: newFakeReader(2)}
	cfg := fastConfig()
	cfg.ReadRetries = 3
	c := New(r, cfg, nil, nil)

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, snap.FailedIDs)
	assert.Equal(t, int32(1), r.missCalls.Load())
}

type notFoundReader struct {
	*fakeReader
	missCalls atomic.Int32
}

func (n *notFoundReader) Order(ctx context.Context, id *big.Int) (domain.OrderRecord, error) {
	if id.Int64() == 2 {
		n.missCalls.Add(1)
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	return n.fakeReader.Order(ctx, id)
}

func TestCounterFailureIsFatal(t *testing.T) {
	r := newFakeReader(3)
	c := New(r, fastConfig(), nil, nil)

	first, err := c.Refresh(context.Background())
	require.NoError(t, err)

	r.counterErr = errors.New("dial tcp: i/o timeout")
	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read counter")
	assert.Same(t, first, c.Snapshot())
}

func TestRefreshOrderIsCopyOnWrite(t *testing.T) {
	r := newFakeReader(3)
	c := New(r, fastConfig(), nil, nil)

	before, err := c.Refresh(context.Background())
	require.NoError(t, err)

	half := new(big.Int).Div(domain.PercentScale, big.NewInt(2))
	r.mu.Lock()
	r.remaining[2] = half
	r.mu.Unlock()

	rec, err := c.RefreshOrder(context.Background(), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RemainingExecutionPercentage.Cmp(half))

	after := c.Snapshot()
	assert.NotSame(t, before, after)
	assert.Equal(t, 0, before.Orders["2"].RemainingExecutionPercentage.Cmp(domain.PercentScale))
	assert.Equal(t, 0, after.Orders["2"].RemainingExecutionPercentage.Cmp(half))
	assert.Len(t, after.Orders, 3)
}

func TestRemainingRegressionKeepsLedgerValue(t *testing.T) {
	r := newFakeReader(1)
	half := new(big.Int).Div(domain.PercentScale, big.NewInt(2))
	r.remaining[1] = half
	c := New(r, fastConfig(), nil, nil)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	r.remaining[1] = domain.PercentScale
	r.mu.Unlock()

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Orders["1"].RemainingExecutionPercentage.Cmp(domain.PercentScale))
}

func TestListenersSeeEverySwap(t *testing.T) {
	r := newFakeReader(2)
	c := New(r, fastConfig(), nil, nil)

	var seen []*domain.CatalogSnapshot
	c.OnRefresh(func(_ context.Context, snap *domain.CatalogSnapshot) {
		seen = append(seen, snap)
	})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	_, err = c.RefreshOrder(context.Background(), big.NewInt(1))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Same(t, c.Snapshot(), seen[1])
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newFakeReader(1)
	c := New(r, fastConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return c.Snapshot() != nil }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSeedOnlyBeforeFirstRefresh(t *testing.T) {
	c := New(newFakeReader(1), fastConfig(), nil, nil)
	seeded := &domain.CatalogSnapshot{Counter: big.NewInt(9), Orders: map[string]domain.OrderRecord{}}

	assert.False(t, c.Seed(nil))
	assert.True(t, c.Seed(seeded))
	assert.Same(t, seeded, c.Snapshot())
	assert.False(t, c.Seed(&domain.CatalogSnapshot{}))

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, c.Snapshot())
}

// gatedReader stalls the first read of order 2 after it has been served, until
// release is closed.
type gatedReader struct {
	*fakeReader
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedReader(n int64) *gatedReader {
	g := &gatedReader{
		fakeReader: newFakeReader(n),
		reached:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedReader) Order(ctx context.Context, id *big.Int) (domain.OrderRecord, error) {
	rec, err := g.fakeReader.Order(ctx, id)
	if id.Int64() == 2 && g.armed.CompareAndSwap(true, false) {
		close(g.reached)
		<-g.release
	}
	return rec, err
}

func TestRefreshKeepsNewerSingleOrderRead(t *testing.T) {
	g := newGatedReader(3)
	c := New(g, Config{BatchSize: 10}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()
	<-g.reached

	half := new(big.Int).Div(domain.PercentScale, big.NewInt(2))
	g.mu.Lock()
	g.remaining[2] = half
	g.mu.Unlock()
	_, err := c.RefreshOrder(context.Background(), big.NewInt(2))
	require.NoError(t, err)

	close(g.release)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	require.Len(t, snap.Orders, 3)
	assert.Equal(t, 0, snap.Orders["2"].RemainingExecutionPercentage.Cmp(half))
	assert.Equal(t, 0, snap.Orders["1"].RemainingExecutionPercentage.Cmp(domain.PercentScale))
}

func TestOvertakenRefreshIsDiscarded(t *testing.T) {
	g := newGatedReader(3)
	c := New(g, Config{BatchSize: 10}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()
	<-g.reached

	half := new(big.Int).Div(domain.PercentScale, big.NewInt(2))
	g.mu.Lock()
	g.remaining[2] = half
	g.mu.Unlock()
	_, err := c.RefreshOrder(context.Background(), big.NewInt(2))
	require.NoError(t, err)
	newer, err := c.Refresh(context.Background())
	require.NoError(t, err)

	close(g.release)
	require.NoError(t, <-done)

	assert.Same(t, newer, c.Snapshot())
	assert.Equal(t, 0, c.Snapshot().Orders["2"].RemainingExecutionPercentage.Cmp(half))
}

func TestRefreshOrderOnSeededSnapshotWithoutCounter(t *testing.T) {
	c := New(newFakeReader(3), fastConfig(), nil, nil)
	require.True(t, c.Seed(&domain.CatalogSnapshot{Orders: map[string]domain.OrderRecord{}}))

	_, err := c.RefreshOrder(context.Background(), big.NewInt(2))
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, "2", snap.Counter.String())
	assert.Contains(t, snap.Orders, "2")
}
