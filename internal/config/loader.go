package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLETSYNC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WALLETSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet RPC ──
	setStr(&cfg.WalletRPC.BaseURL, "WALLETSYNC_WALLET_RPC_BASE_URL")
	setStr(&cfg.WalletRPC.APIKey, "WALLETSYNC_WALLET_RPC_API_KEY")

	// ── Venue ──
	setStr(&cfg.Venue.InfoURL, "WALLETSYNC_VENUE_INFO_URL")
	setStr(&cfg.Venue.WsURL, "WALLETSYNC_VENUE_WS_URL")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "WALLETSYNC_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "WALLETSYNC_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "WALLETSYNC_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "WALLETSYNC_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "WALLETSYNC_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "WALLETSYNC_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "WALLETSYNC_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "WALLETSYNC_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "WALLETSYNC_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "WALLETSYNC_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WALLETSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLETSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLETSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLETSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WALLETSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WALLETSYNC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WALLETSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLETSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLETSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLETSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLETSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLETSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLETSYNC_S3_FORCE_PATH_STYLE")

	// ── Balance ──
	setStringSlice(&cfg.Balance.Assets, "WALLETSYNC_BALANCE_ASSETS")
	setStr(&cfg.Balance.Chain, "WALLETSYNC_BALANCE_CHAIN")
	setDuration(&cfg.Balance.CacheTTL, "WALLETSYNC_BALANCE_CACHE_TTL")
	setDuration(&cfg.Balance.FetchTimeout, "WALLETSYNC_BALANCE_FETCH_TIMEOUT")
	setDuration(&cfg.Balance.AssetTimeout, "WALLETSYNC_BALANCE_ASSET_TIMEOUT")
	setDuration(&cfg.Balance.RefreshInterval, "WALLETSYNC_BALANCE_REFRESH_INTERVAL")
	setDuration(&cfg.Balance.SweepInterval, "WALLETSYNC_BALANCE_SWEEP_INTERVAL")

	// ── Book ──
	setStr(&cfg.Book.DefaultMarket, "WALLETSYNC_BOOK_DEFAULT_MARKET")
	setDuration(&cfg.Book.ThrottleWindow, "WALLETSYNC_BOOK_THROTTLE_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WALLETSYNC_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "WALLETSYNC_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "WALLETSYNC_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchLimit, "WALLETSYNC_ARCHIVE_BATCH_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WALLETSYNC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLETSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLETSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WALLETSYNC_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "WALLETSYNC_MODE")
	setStr(&cfg.LogLevel, "WALLETSYNC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
