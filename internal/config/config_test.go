package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults with the endpoints that have no sane default
// filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.WalletRPC.BaseURL = "https://edge.example.com/wallet-operations"
	cfg.Venue.InfoURL = "https://api.hyperliquid.xyz/info"
	cfg.Venue.WsURL = "wss://api.hyperliquid.xyz/ws"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Balance.Assets = nil
	cfg.Balance.CacheTTL = duration{}
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown mode "bogus"`)
	assert.ErrorContains(t, err, "balance: assets must not be empty")
	assert.ErrorContains(t, err, "balance: cache_ttl must be > 0")
	assert.ErrorContains(t, err, "redis: addr must not be empty")
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "s3: bucket must not be empty")

	cfg.S3.Endpoint = "https://minio.internal:9000"
	cfg.S3.Bucket = "walletsync-archive"
	require.NoError(t, cfg.Validate())
}

func TestValidateThrottleWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Book.ThrottleWindow = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "book: throttle_window must be > 0")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[wallet_rpc]
base_url = "https://edge.example.com/wallet-operations"

[venue]
info_url = "https://api.hyperliquid.xyz/info"
ws_url = "wss://api.hyperliquid.xyz/ws"

[balance]
cache_ttl = "45s"
assets = ["USDC", "XAUT"]

[book]
throttle_window = "250ms"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 45*time.Second, cfg.Balance.CacheTTL.Duration)
	assert.Equal(t, []string{"USDC", "XAUT"}, cfg.Balance.Assets)
	assert.Equal(t, 250*time.Millisecond, cfg.Book.ThrottleWindow.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "XAUT", cfg.Book.DefaultMarket)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "serve"`), 0o600))

	t.Setenv("WALLETSYNC_MODE", "full")
	t.Setenv("WALLETSYNC_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("WALLETSYNC_BALANCE_ASSETS", "USDC, XAUT ,TRZRY")
	t.Setenv("WALLETSYNC_BALANCE_REFRESH_INTERVAL", "90s")
	t.Setenv("WALLETSYNC_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"USDC", "XAUT", "TRZRY"}, cfg.Balance.Assets)
	assert.Equal(t, 90*time.Second, cfg.Balance.RefreshInterval.Duration)
	assert.False(t, cfg.Server.Enabled)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("300ms")))
	assert.Equal(t, 300*time.Millisecond, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
