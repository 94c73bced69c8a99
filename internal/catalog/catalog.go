// Package catalog reconstructs the full order book from the ledger. A
// refresh reads every order id in [1, counter] in fixed-size concurrent
// batches and publishes a brand-new snapshot with a single atomic swap.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
)

// Reader is the slice of the ledger client the catalog needs.
type Reader interface {
	Counter(ctx context.Context) (*big.Int, error)
	Order(ctx context.Context, id *big.Int) (domain.OrderRecord, error)
}

// Listener is called after each successful swap. It must not modify snap.
type Listener func(ctx context.Context, snap *domain.CatalogSnapshot)

// Config tunes the batched fetch.
type Config struct {
	BatchSize    int
	BatchDelay   time.Duration
	ReadRetries  int
	RetryBackoff time.Duration
}

// DefaultConfig returns the stock batching policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		BatchDelay:   250 * time.Millisecond,
		ReadRetries:  2,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Catalog owns the current snapshot. Readers never lock.
type Catalog struct {
	reader  Reader
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	current atomic.Pointer[domain.CatalogSnapshot]

	// Guarded by swapMu. gen counts single-order writes; written[key] is
	// the gen of the last RefreshOrder for key. A Refresh remembers gen at
	// its start and keeps any record written after that.
	swapMu        sync.Mutex
	gen           uint64
	written       map[string]uint64
	lastRefreshAt uint64

	listeners []Listener
}

// New creates a Catalog with no snapshot yet.
func New(reader Reader, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Catalog {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		reader:  reader,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "catalog")),
		metrics: m,
		now:     time.Now,
		written: make(map[string]uint64),
	}
}

// OnRefresh registers l. Register listeners before starting Run.
func (c *Catalog) OnRefresh(l Listener) {
	c.listeners = append(c.listeners, l)
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (c *Catalog) Snapshot() *domain.CatalogSnapshot {
	return c.current.Load()
}

// Get looks up one order in the current snapshot.
func (c *Catalog) Get(id *big.Int) (domain.OrderRecord, bool) {
	return c.current.Load().Get(id)
}

// Seed installs snap as the current snapshot if no refresh has completed
// yet, so a restart can serve the last archived book immediately. Listeners
// are not notified. Returns false if a snapshot was already present.
func (c *Catalog) Seed(snap *domain.CatalogSnapshot) bool {
	if snap == nil {
		return false
	}
	return c.current.CompareAndSwap(nil, snap)
}

type readResult struct {
	order domain.OrderRecord
	err   error
}

// Refresh reads the whole book and swaps in the new snapshot. Failure to
// read the counter is returned and leaves the current snapshot in place;
// individual order failures only mark the snapshot partial.
func (c *Catalog) Refresh(ctx context.Context) (*domain.CatalogSnapshot, error) {
	start := c.now()
	startGen := c.generation()

	counter, err := c.reader.Counter(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: read counter: %w", err)
	}
	if !counter.IsUint64() {
		return nil, fmt.Errorf("catalog: counter %s out of range", counter)
	}
	n := counter.Uint64()

	snap := &domain.CatalogSnapshot{
		Orders:  make(map[string]domain.OrderRecord, min(n, 4096)),
		Counter: new(big.Int).Set(counter),
	}

	batch := uint64(c.cfg.BatchSize)
	for lo := uint64(1); lo <= n; lo += batch {
		if lo > 1 && c.cfg.BatchDelay > 0 {
			if err := sleep(ctx, c.cfg.BatchDelay); err != nil {
				return nil, fmt.Errorf("catalog: refresh interrupted: %w", err)
			}
		}
		hi := min(lo+batch-1, n)
		results := c.readBatch(ctx, lo, hi)

		for i, res := range results {
			id := new(big.Int).SetUint64(lo + uint64(i))
			if res.err != nil {
				snap.FailedIDs = append(snap.FailedIDs, id.String())
				c.logger.WarnContext(ctx, "order read failed, omitting from snapshot",
					slog.String("order_id", id.String()),
					slog.String("error", res.err.Error()),
				)
				continue
			}
			snap.Orders[id.String()] = res.order
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("catalog: refresh interrupted: %w", err)
	}

	snap.FetchedAt = c.now().UTC()
	if !c.swap(ctx, snap, startGen) {
		c.logger.DebugContext(ctx, "discarding refresh overtaken by a newer one")
		return c.current.Load(), nil
	}
	c.metrics.Refresh(c.now().Sub(start), len(snap.Active), len(snap.Completed), len(snap.Cancelled), len(snap.FailedIDs))

	if snap.Partial {
		c.logger.WarnContext(ctx, "catalog snapshot is partial",
			slog.Int("missing", len(snap.FailedIDs)),
			slog.Uint64("counter", n),
		)
	}
	c.logger.InfoContext(ctx, "catalog refreshed",
		slog.Uint64("counter", n),
		slog.Int("orders", len(snap.Orders)),
		slog.Int("active", len(snap.Active)),
		slog.Duration("took", c.now().Sub(start)),
	)
	c.emit(ctx, snap)
	return snap, nil
}

// readBatch reads ids lo..hi concurrently. Every goroutine reports into its
// own slot so one failure never cancels its siblings.
func (c *Catalog) readBatch(ctx context.Context, lo, hi uint64) []readResult {
	results := make([]readResult, hi-lo+1)
	var g errgroup.Group
	for id := lo; id <= hi; id++ {
		slot := id - lo
		orderID := new(big.Int).SetUint64(id)
		g.Go(func() error {
			rec, err := c.readOrder(ctx, orderID)
			results[slot] = readResult{order: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readOrder retries transport failures with exponential backoff. Data
// errors are final on the first attempt.
func (c *Catalog) readOrder(ctx context.Context, id *big.Int) (domain.OrderRecord, error) {
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return domain.OrderRecord{}, err
			}
			backoff *= 2
		}
		rec, err := c.reader.Order(ctx, id)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrMalformedRecord) {
			break
		}
	}
	return domain.OrderRecord{}, lastErr
}

// RefreshOrder re-reads a single order and publishes a copy of the current
// snapshot with that order replaced.
func (c *Catalog) RefreshOrder(ctx context.Context, id *big.Int) (domain.OrderRecord, error) {
	rec, err := c.readOrder(ctx, id)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("catalog: refresh order %s: %w", id, err)
	}

	key := id.String()
	c.swapMu.Lock()
	prev := c.current.Load()
	next := &domain.CatalogSnapshot{
		Orders:    make(map[string]domain.OrderRecord),
		Counter:   new(big.Int).Set(id),
		FetchedAt: c.now().UTC(),
	}
	if prev != nil {
		for k, v := range prev.Orders {
			next.Orders[k] = v
		}
		if prev.Counter != nil && prev.Counter.Cmp(id) > 0 {
			next.Counter.Set(prev.Counter)
		}
		for _, f := range prev.FailedIDs {
			if f != key {
				next.FailedIDs = append(next.FailedIDs, f)
			}
		}
	}
	next.Orders[key] = rec
	next.Partial = len(next.FailedIDs) > 0
	next.Classify()
	c.checkRegressions(ctx, prev, next)
	c.gen++
	c.written[key] = c.gen
	c.current.Store(next)
	c.swapMu.Unlock()

	c.emit(ctx, next)
	return rec, nil
}

func (c *Catalog) generation() uint64 {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	return c.gen
}

// swap installs a full refresh that started at startGen. Orders re-read by
// RefreshOrder after that point are carried over from the current snapshot
// unless the refresh saw a later update. It returns false without swapping
// when a refresh that started later has already been installed.
func (c *Catalog) swap(ctx context.Context, next *domain.CatalogSnapshot, startGen uint64) bool {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if startGen < c.lastRefreshAt {
		return false
	}

	prev := c.current.Load()
	for key, at := range c.written {
		if at <= startGen {
			delete(c.written, key)
			continue
		}
		if prev == nil {
			continue
		}
		kept, ok := prev.Orders[key]
		if !ok {
			continue
		}
		if read, ok := next.Orders[key]; ok && read.LastUpdateTime > kept.LastUpdateTime {
			continue
		}
		next.Orders[key] = kept
		next.FailedIDs = slices.DeleteFunc(next.FailedIDs, func(f string) bool { return f == key })
	}
	next.Partial = len(next.FailedIDs) > 0
	next.Classify()

	c.checkRegressions(ctx, prev, next)
	c.lastRefreshAt = startGen
	c.current.Store(next)
	return true
}

// checkRegressions logs orders whose remaining percentage went up between
// snapshots. The ledger value is kept as-is.
func (c *Catalog) checkRegressions(ctx context.Context, prev, next *domain.CatalogSnapshot) {
	if prev == nil {
		return
	}
	for key, o := range next.Orders {
		old, ok := prev.Orders[key]
		if !ok || old.RemainingExecutionPercentage == nil || o.RemainingExecutionPercentage == nil {
			continue
		}
		if o.RemainingExecutionPercentage.Cmp(old.RemainingExecutionPercentage) > 0 {
			c.logger.WarnContext(ctx, "remaining execution percentage increased between snapshots",
				slog.String("order_id", key),
				slog.String("previous", old.RemainingExecutionPercentage.String()),
				slog.String("current", o.RemainingExecutionPercentage.String()),
			)
		}
	}
}

func (c *Catalog) emit(ctx context.Context, snap *domain.CatalogSnapshot) {
	for _, l := range c.listeners {
		l(ctx, snap)
	}
}

// Run refreshes immediately and then every interval until ctx is done.
// Refresh errors are logged; the previous snapshot stays current.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) error {
	c.logger.InfoContext(ctx, "catalog refresher started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "catalog refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "catalog refresher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
