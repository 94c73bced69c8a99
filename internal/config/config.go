// Package config defines the otcdesk configuration tree, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by OTCDESK_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Executor  ExecutorConfig  `toml:"executor"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Valuation ValuationConfig `toml:"valuation"`
	Tokens    []TokenConfig   `toml:"tokens"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Watch     WatchConfig     `toml:"watch"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key source. Both empty means read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig describes the ledger endpoint and the exchange contract.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	ChainID            int64    `toml:"chain_id"`
	Contract           string   `toml:"contract"`
	RPS                float64  `toml:"rps"`
	Burst              int      `toml:"burst"`
	LogChunkBlocks     uint64   `toml:"log_chunk_blocks"`
	StartBlock         uint64   `toml:"start_block"`
	ReceiptPoll        duration `toml:"receipt_poll"`
	BreakerMaxFailures uint32   `toml:"breaker_max_failures"`
	BreakerInterval    duration `toml:"breaker_interval"`
	BreakerTimeout     duration `toml:"breaker_timeout"`
}

// CatalogConfig tunes the batched order fetch and its archiving.
type CatalogConfig struct {
	BatchSize       int      `toml:"batch_size"`
	BatchDelay      duration `toml:"batch_delay"`
	ReadRetries     int      `toml:"read_retries"`
	RetryBackoff    duration `toml:"retry_backoff"`
	RefreshInterval duration `toml:"refresh_interval"`
	// SnapshotEvery is how often a snapshot is archived to S3; zero disables.
	SnapshotEvery duration `toml:"snapshot_every"`
}

// ExecutorConfig bounds the approval and confirmation waits.
type ExecutorConfig struct {
	ApprovalPollAttempts int      `toml:"approval_poll_attempts"`
	ApprovalPollInterval duration `toml:"approval_poll_interval"`
	ConfirmationTimeout  duration `toml:"confirmation_timeout"`
	IdempotencyTTL       duration `toml:"idempotency_ttl"`
}

// PriceFeedConfig points at the DEX price API.
type PriceFeedConfig struct {
	BaseURL   string   `toml:"base_url"`
	Chain     string   `toml:"chain"`
	BatchSize int      `toml:"batch_size"`
	Timeout   duration `toml:"timeout"`
	CacheTTL  duration `toml:"cache_ttl"`
}

// BackingConfig names the reference asset behind one token.
type BackingConfig struct {
	Token        string `toml:"token"`
	BackingToken string `toml:"backing_token"`
	// PerToken is how many backing units one token represents, as a decimal string.
	PerToken string `toml:"per_token"`
}

// ValuationConfig carries pricing overrides.
type ValuationConfig struct {
	StablePegs  []string        `toml:"stable_pegs"`
	NativeAlias string          `toml:"native_alias"`
	Backing     []BackingConfig `toml:"backing"`
}

// TokenConfig is one row of the contract's token index table.
type TokenConfig struct {
	Index       int64    `toml:"index"`
	Address     string   `toml:"address"`
	Ticker      string   `toml:"ticker"`
	Decimals    int32    `toml:"decimals"`
	DisplayName string   `toml:"display_name"`
	Domain      string   `toml:"domain"`
	Classes     []string `toml:"classes"`
	Native      bool     `toml:"native"`
}

// RedisConfig holds Redis connection parameters. Disabled means the
// in-memory KV store and no quote cache, bus or API rate limit.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds the archive database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards mutating routes; empty leaves them open.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WatchConfig lists the wallets whose notifications are pushed out.
type WatchConfig struct {
	Viewers  []string `toml:"viewers"`
	Interval duration `toml:"interval"`
}

// duration decodes TOML strings such as "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:            1,
			RPS:                10,
			Burst:              5,
			LogChunkBlocks:     5000,
			ReceiptPoll:        duration{2 * time.Second},
			BreakerMaxFailures: 5,
			BreakerInterval:    duration{time.Minute},
			BreakerTimeout:     duration{30 * time.Second},
		},
		Catalog: CatalogConfig{
			BatchSize:       10,
			BatchDelay:      duration{250 * time.Millisecond},
			ReadRetries:     2,
			RetryBackoff:    duration{200 * time.Millisecond},
			RefreshInterval: duration{30 * time.Second},
			SnapshotEvery:   duration{15 * time.Minute},
		},
		Executor: ExecutorConfig{
			ApprovalPollAttempts: 30,
			ApprovalPollInterval: duration{time.Second},
			ConfirmationTimeout:  duration{60 * time.Second},
			IdempotencyTTL:       duration{10 * time.Minute},
		},
		PriceFeed: PriceFeedConfig{
			BaseURL:   "https://api.dexscreener.com",
			BatchSize: 30,
			Timeout:   duration{10 * time.Second},
			CacheTTL:  duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "otcdesk:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "otcdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "otcdesk-snapshots",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"filled", "updated"},
		},
		Watch: WatchConfig{
			Interval: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"sync":   true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func isAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: sync, server, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.RPCURL == "" {
		add("chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if !isAddress(c.Chain.Contract) {
		add("chain: contract %q is not an address", c.Chain.Contract)
	}
	if c.Chain.RPS <= 0 {
		add("chain: rps must be > 0")
	}

	if c.Catalog.BatchSize < 1 {
		add("catalog: batch_size must be >= 1")
	}
	if c.Catalog.ReadRetries < 0 {
		add("catalog: read_retries must be >= 0")
	}
	if c.Catalog.RefreshInterval.Duration <= 0 {
		add("catalog: refresh_interval must be > 0")
	}

	if c.Executor.ApprovalPollAttempts < 1 {
		add("executor: approval_poll_attempts must be >= 1")
	}
	if c.Executor.ConfirmationTimeout.Duration <= 0 {
		add("executor: confirmation_timeout must be > 0")
	}

	if c.PriceFeed.BaseURL == "" {
		add("price_feed: base_url must not be empty")
	}
	if c.PriceFeed.BatchSize < 1 || c.PriceFeed.BatchSize > 30 {
		add("price_feed: batch_size must be 1-30, got %d", c.PriceFeed.BatchSize)
	}

	for _, p := range c.Valuation.StablePegs {
		if !isAddress(p) {
			add("valuation: stable peg %q is not an address", p)
		}
	}
	if c.Valuation.NativeAlias != "" && !isAddress(c.Valuation.NativeAlias) {
		add("valuation: native_alias %q is not an address", c.Valuation.NativeAlias)
	}
	for _, b := range c.Valuation.Backing {
		if !isAddress(b.Token) || !isAddress(b.BackingToken) {
			add("valuation: backing entry %q -> %q needs two addresses", b.Token, b.BackingToken)
		}
		if b.PerToken == "" {
			add("valuation: backing entry %q needs per_token", b.Token)
		}
	}

	seen := make(map[int64]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if seen[t.Index] {
			add("tokens: duplicate index %d", t.Index)
		}
		seen[t.Index] = true
		if !t.Native && !isAddress(t.Address) {
			add("tokens: index %d address %q is not an address", t.Index, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			add("tokens: index %d decimals %d out of range", t.Index, t.Decimals)
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	mode := strings.ToLower(c.Mode)
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	for _, v := range c.Watch.Viewers {
		if !isAddress(v) {
			add("watch: viewer %q is not an address", v)
		}
	}
	if len(c.Watch.Viewers) > 0 && c.Watch.Interval.Duration <= 0 {
		add("watch: interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
