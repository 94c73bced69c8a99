package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/reconcile"
	"github.com/alanyoungcy/otcdesk/internal/server"
	"github.com/alanyoungcy/otcdesk/internal/server/handler"
	"github.com/alanyoungcy/otcdesk/internal/server/ws"
)

// SyncMode keeps the catalog fresh, archives snapshots and watches the
// configured viewers for fills. No HTTP surface.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the order book and trading API on top of a refreshing
// catalog.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSync(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startSync registers the catalog listeners, warm-starts from the newest
// archive and launches the refresher and archive loops.
func (a *App) startSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	deps.Catalog.OnRefresh(func(ctx context.Context, snap *domain.CatalogSnapshot) {
		publish(ctx, deps.Bus, domain.ChannelSnapshots, domain.EventSnapshotRefreshed, domain.Summarize(snap), a.logger)
	})

	if deps.Archive != nil {
		tracker := &changeTracker{}
		deps.Catalog.OnRefresh(func(ctx context.Context, snap *domain.CatalogSnapshot) {
			changed := tracker.changed(snap)
			if len(changed) == 0 {
				return
			}
			if err := deps.Archive.UpsertBatch(ctx, changed, snap.FetchedAt); err != nil {
				a.logger.WarnContext(ctx, "order archive upsert failed",
					slog.Int("orders", len(changed)),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	if deps.Snapshots != nil {
		a.warmStart(ctx, deps)
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	g.Go(func() error {
		return ignoreCanceled(deps.Catalog.Run(ctx, a.cfg.Catalog.RefreshInterval.Duration))
	})
}

// warmStart seeds the catalog from the newest archived snapshot so the API
// can answer before the first ledger scan completes.
func (a *App) warmStart(ctx context.Context, deps *Dependencies) {
	snap, err := deps.Snapshots.Latest(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "warm start skipped", slog.String("error", err.Error()))
		}
		return
	}
	if deps.Catalog.Seed(snap) {
		a.logger.InfoContext(ctx, "catalog seeded from archive",
			slog.Int("orders", len(snap.Orders)),
			slog.Time("fetched_at", snap.FetchedAt),
		)
	}
}

// runArchiveLoop uploads the current snapshot every SnapshotEvery. With a
// lock manager only one replica archives per tick.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	every := a.cfg.Catalog.SnapshotEvery.Duration
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap := deps.Catalog.Snapshot()
		if snap == nil {
			continue
		}
		if deps.Locks != nil {
			release, err := deps.Locks.Acquire(ctx, "snapshot-archive", every)
			if err != nil {
				if !errors.Is(err, domain.ErrLockHeld) {
					a.logger.WarnContext(ctx, "archive lock failed", slog.String("error", err.Error()))
				}
				continue
			}
			a.archive(ctx, deps, snap)
			release()
			continue
		}
		a.archive(ctx, deps, snap)
	}
}

func (a *App) archive(ctx context.Context, deps *Dependencies, snap *domain.CatalogSnapshot) {
	path, err := deps.Snapshots.Archive(ctx, snap)
	if err != nil {
		a.logger.ErrorContext(ctx, "snapshot archive failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "snapshot archived", slog.String("path", path))
}

// startWatcher polls the configured viewers for new fills and updates.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	viewers := viewerAddresses(a.cfg.Watch.Viewers)
	if len(viewers) == 0 {
		a.logger.InfoContext(ctx, "no viewers configured; watcher idle")
		return
	}

	g.Go(func() error {
		return ignoreCanceled(deps.Reconciler.Watch(ctx, viewers, a.cfg.Watch.Interval.Duration, a.deliver(deps)))
	})
}

func (a *App) deliver(deps *Dependencies) reconcile.DeliverFunc {
	return func(ctx context.Context, viewer common.Address, n domain.Notification) error {
		publish(ctx, deps.Bus, domain.ChannelNotifications, domain.EventNotification, map[string]any{
			"viewer":       viewer.Hex(),
			"notification": n,
		}, a.logger)
		if !deps.Notifier.Enabled() {
			return nil
		}
		return deps.Notifier.Deliver(ctx, viewer, n)
	}
}

// startHTTPServer builds the API and runs it until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, func() any {
		status := map[string]any{"mode": a.cfg.Mode}
		if snap := deps.Catalog.Snapshot(); snap != nil {
			status["catalog"] = domain.Summarize(snap)
		}
		if addr, ok := deps.Chain.Sender(); ok {
			status["wallet"] = addr.Hex()
		}
		return status
	}, a.cfg.Server.CORSOrigins, a.logger)

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Catalog, a.cfg.Mode),
		Orders:        handler.NewOrderHandler(deps.Catalog, deps.Prices, deps.Valuator, deps.Tokens, deps.Archive, a.logger),
		Notifications: handler.NewNotificationHandler(deps.Reconciler, a.logger),
		Trades:        handler.NewTradeHandler(deps.Executor, deps.TradeKeys, deps.Catalog, deps.Prices, deps.Valuator, a.logger),
		Events:        handler.NewEventHandler(deps.History, a.logger),
		Metrics:       deps.Metrics.Handler(),
	}

	ex := a.cfg.Executor
	writeTimeout := ex.ConfirmationTimeout.Duration +
		time.Duration(ex.ApprovalPollAttempts)*ex.ApprovalPollInterval.Duration +
		30*time.Second

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		WriteTimeout: writeTimeout,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deps.TradeKeys.Sweep()
			}
		}
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// changeTracker remembers the last update time of every archived order so a
// refresh only upserts rows that moved. Listeners fire from both the
// refresher and single-order refreshes, hence the mutex.
type changeTracker struct {
	mu   sync.Mutex
	seen map[string]int64
}

func (t *changeTracker) changed(snap *domain.CatalogSnapshot) []domain.OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = make(map[string]int64, len(snap.Orders))
	}
	var out []domain.OrderRecord
	for key, o := range snap.Orders {
		if prev, ok := t.seen[key]; ok && prev == o.LastUpdateTime {
			continue
		}
		t.seen[key] = o.LastUpdateTime
		out = append(out, o)
	}
	return out
}

// publish wraps data in a BusEvent and publishes it. Failures are logged.
func publish(ctx context.Context, bus domain.SignalBus, channel, kind string, data any, logger *slog.Logger) {
	payload, err := json.Marshal(domain.BusEvent{Type: kind, At: time.Now().UTC(), Data: data})
	if err == nil {
		err = bus.Publish(ctx, channel, payload)
	}
	if err != nil {
		logger.WarnContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("event", kind),
			slog.String("error", err.Error()),
		)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
