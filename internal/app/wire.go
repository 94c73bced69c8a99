package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/otcdesk/internal/blob/s3"
	"github.com/alanyoungcy/otcdesk/internal/cache/redis"
	"github.com/alanyoungcy/otcdesk/internal/catalog"
	"github.com/alanyoungcy/otcdesk/internal/chain"
	"github.com/alanyoungcy/otcdesk/internal/config"
	"github.com/alanyoungcy/otcdesk/internal/crypto"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/executor"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
	"github.com/alanyoungcy/otcdesk/internal/notify"
	"github.com/alanyoungcy/otcdesk/internal/pricefeed"
	"github.com/alanyoungcy/otcdesk/internal/reconcile"
	"github.com/alanyoungcy/otcdesk/internal/store/memory"
	"github.com/alanyoungcy/otcdesk/internal/store/postgres"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
	"github.com/alanyoungcy/otcdesk/internal/valuation"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when disabled in config.
type Dependencies struct {
	Metrics    *metrics.Metrics
	Tokens     *tokens.Directory
	Chain      *chain.Client
	Catalog    *catalog.Catalog
	Prices     *pricefeed.Client
	Valuator   *valuation.Valuator
	Executor   *executor.Executor
	TradeKeys  *executor.Idempotency
	Reconciler *reconcile.Reconciler
	Notifier   *notify.Notifier

	// Always set: Redis-backed when enabled, in-process otherwise.
	KV      domain.KVStore
	Bus     domain.SignalBus
	History domain.EventHistory

	// Redis only.
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager

	// Postgres only.
	Archive domain.OrderArchive
	Audit   domain.AuditStore

	// S3 only.
	Snapshots *s3blob.SnapshotArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Tokens:  tokens.New(tokenEntries(cfg.Tokens)),
	}

	// --- Wallet (optional: without it the desk is read-only) ---
	var signer chain.TxSigner
	s, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}, cfg.Chain.ChainID)
	switch {
	case err == nil:
		signer = s
		logger.InfoContext(ctx, "wallet loaded", slog.String("address", s.Address().Hex()))
	case errors.Is(err, crypto.ErrNoKey):
		logger.WarnContext(ctx, "no wallet configured; trading disabled")
	default:
		return fail("wallet", err)
	}

	// --- Ledger ---
	chainClient, err := chain.Dial(ctx, chainConfig(cfg.Chain), signer, deps.Metrics, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Redis (optional) ---
	var quoteCache domain.QuoteCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		bus := redis.NewSignalBus(rc)
		deps.KV = redis.NewKVStore(rc)
		deps.Bus = bus
		deps.History = bus
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc)
		quoteCache = redis.NewQuoteCache(rc, cfg.PriceFeed.CacheTTL.Duration)
	} else {
		logger.WarnContext(ctx, "redis disabled; read state is kept in memory and lost on restart")
		bus := memory.NewBus()
		deps.KV = memory.NewKV()
		deps.Bus = bus
		deps.History = bus
	}

	// --- PostgreSQL (optional) ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Archive = postgres.NewOrderArchive(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
	}

	// --- S3 (optional) ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		store := s3blob.NewStore(sc)
		deps.Snapshots = s3blob.NewSnapshotArchiver(store, store, logger)
	}

	// --- Engine ---
	deps.Catalog = catalog.New(chainClient, catalogConfig(cfg.Catalog), deps.Metrics, logger)
	deps.Prices = pricefeed.New(priceFeedConfig(cfg.PriceFeed), quoteCache, deps.Metrics, logger)

	vcfg, err := valuationConfig(cfg.Valuation)
	if err != nil {
		return fail("valuation", err)
	}
	deps.Valuator = valuation.New(deps.Tokens, vcfg)

	deps.Executor = executor.New(chainClient, deps.Catalog, deps.Tokens, executorConfig(cfg.Executor), deps.Metrics, logger)
	deps.Executor.SetBus(deps.Bus)
	if deps.Audit != nil {
		deps.Executor.SetAudit(deps.Audit)
	}
	deps.Executor.Observe(func(attemptID string, from, to domain.TradeState) {
		publish(context.Background(), deps.Bus, domain.ChannelTrades, domain.EventTradeState, map[string]any{
			"attempt_id": attemptID,
			"from":       from,
			"to":         to,
		}, logger)
	})
	deps.TradeKeys = executor.NewIdempotency(cfg.Executor.IdempotencyTTL.Duration)

	deps.Reconciler = reconcile.New(chainClient, deps.Catalog, deps.KV,
		reconcile.Config{StartBlock: cfg.Chain.StartBlock}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, deps.Metrics, logger)

	return deps, cleanup, nil
}
