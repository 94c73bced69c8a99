package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults(), loads .env if present
// and applies OTCDESK_* overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets deploys inject secrets and endpoints without
// editing the file. Unset or empty variables leave the field alone.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "OTCDESK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OTCDESK_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OTCDESK_WALLET_KEY_PASSWORD")

	setStr(&cfg.Chain.RPCURL, "OTCDESK_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "OTCDESK_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.Contract, "OTCDESK_CHAIN_CONTRACT")
	setFloat64(&cfg.Chain.RPS, "OTCDESK_CHAIN_RPS")
	setUint64(&cfg.Chain.StartBlock, "OTCDESK_CHAIN_START_BLOCK")

	setInt(&cfg.Catalog.BatchSize, "OTCDESK_CATALOG_BATCH_SIZE")
	setDuration(&cfg.Catalog.RefreshInterval, "OTCDESK_CATALOG_REFRESH_INTERVAL")
	setDuration(&cfg.Catalog.SnapshotEvery, "OTCDESK_CATALOG_SNAPSHOT_EVERY")

	setDuration(&cfg.Executor.ConfirmationTimeout, "OTCDESK_EXECUTOR_CONFIRMATION_TIMEOUT")

	setStr(&cfg.PriceFeed.BaseURL, "OTCDESK_PRICE_FEED_BASE_URL")
	setStr(&cfg.PriceFeed.Chain, "OTCDESK_PRICE_FEED_CHAIN")

	setBool(&cfg.Redis.Enabled, "OTCDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OTCDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OTCDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OTCDESK_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "OTCDESK_REDIS_TLS_ENABLED")

	setBool(&cfg.Postgres.Enabled, "OTCDESK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OTCDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OTCDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OTCDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OTCDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OTCDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OTCDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OTCDESK_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "OTCDESK_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.S3.Enabled, "OTCDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OTCDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OTCDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "OTCDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OTCDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OTCDESK_S3_SECRET_KEY")

	setInt(&cfg.Server.Port, "OTCDESK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "OTCDESK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "OTCDESK_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "OTCDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OTCDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OTCDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OTCDESK_NOTIFY_EVENTS")

	setStringSlice(&cfg.Watch.Viewers, "OTCDESK_WATCH_VIEWERS")

	setStr(&cfg.Mode, "OTCDESK_MODE")
	setStr(&cfg.LogLevel, "OTCDESK_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
