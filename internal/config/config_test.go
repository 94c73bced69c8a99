package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.Contract = contract
	return cfg
}

func TestDefaultsNeedChainEndpoint(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain: rpc_url must not be empty")
	assert.Contains(t, err.Error(), "chain: contract")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "replay"
	cfg.Catalog.BatchSize = 0
	cfg.PriceFeed.BatchSize = 31
	cfg.Watch.Viewers = []string{"not-an-address"}
	cfg.Tokens = []TokenConfig{
		{Index: 0, Native: true, Decimals: 18},
		{Index: 0, Address: "0x01", Decimals: 6},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "replay"`)
	assert.Contains(t, msg, "catalog: batch_size")
	assert.Contains(t, msg, "price_feed: batch_size must be 1-30, got 31")
	assert.Contains(t, msg, `watch: viewer "not-an-address"`)
	assert.Contains(t, msg, "tokens: duplicate index 0")
	assert.Contains(t, msg, `tokens: index 0 address "0x01"`)
}

func TestValidateOptionalBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Enabled = true
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = ""
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")

	cfg.Postgres.DSN = "postgres://u:p@db:5432/otcdesk"
	cfg.S3.Bucket = "snapshots"
	assert.NoError(t, cfg.Validate())
}

func TestLoadDecodesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otcdesk.toml")
	body := `
mode = "server"

[chain]
rpc_url = "http://node:8545"
contract = "` + contract + `"
chain_id = 137

[catalog]
batch_size = 25
refresh_interval = "45s"

[[tokens]]
index = 0
native = true
ticker = "MATIC"
decimals = 18

[[tokens]]
index = 1
address = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
ticker = "USDC"
decimals = 6
classes = ["stable"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("OTCDESK_SERVER_PORT", "9100")
	t.Setenv("OTCDESK_WATCH_VIEWERS", " 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 , ")
	t.Setenv("OTCDESK_CHAIN_START_BLOCK", "1200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, uint64(1200), cfg.Chain.StartBlock)
	assert.Equal(t, 25, cfg.Catalog.BatchSize)
	assert.Equal(t, 45*time.Second, cfg.Catalog.RefreshInterval.Duration)
	assert.Equal(t, 60*time.Second, cfg.Executor.ConfirmationTimeout.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}, cfg.Watch.Viewers)
	require.Len(t, cfg.Tokens, 2)
	assert.Equal(t, []string{"stable"}, cfg.Tokens[1].Classes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: decode")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "k"
	cfg.Watch.Viewers = []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Chain.RPCURL)
	assert.Empty(t, out.Redis.Password)

	out.Watch.Viewers[0] = "changed"
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", cfg.Watch.Viewers[0])
}
