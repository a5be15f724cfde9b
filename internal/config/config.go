// Package config defines the top-level configuration for the walletsync
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLETSYNC_* environment variables.
type Config struct {
	WalletRPC WalletRPCConfig `toml:"wallet_rpc"`
	Venue     VenueConfig     `toml:"venue"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Balance   BalanceConfig   `toml:"balance"`
	Book      BookConfig      `toml:"book"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletRPCConfig holds the wallet-operations RPC endpoint parameters. The
// endpoint is a managed edge function that proxies per-chain balance lookups.
type WalletRPCConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// VenueConfig holds Hyperliquid endpoints.
type VenueConfig struct {
	InfoURL string `toml:"info_url"`
	WsURL   string `toml:"ws_url"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BalanceConfig holds balance fetching parameters. Assets is the tracked
// asset list; it also defines the zero-balance placeholder returned when a
// fetch fails with no cached data.
type BalanceConfig struct {
	Assets          []string `toml:"assets"`
	Chain           string   `toml:"chain"`
	CacheTTL        duration `toml:"cache_ttl"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	AssetTimeout    duration `toml:"asset_timeout"`
	RefreshInterval duration `toml:"refresh_interval"`

	// SweepInterval bounds local cache growth by dropping very old entries.
	// Zero disables sweeping; stale entries still back the degradation path,
	// so sweeping trades fallback depth for memory.
	SweepInterval duration `toml:"sweep_interval"`
}

// BookConfig holds orderbook subscription parameters.
type BookConfig struct {
	DefaultMarket  string   `toml:"default_market"`
	ThrottleWindow duration `toml:"throttle_window"`
}

// ArchiveConfig holds snapshot archiving parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchLimit    int      `toml:"batch_limit"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "300ms", "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		WalletRPC: WalletRPCConfig{
			BaseURL: "http://localhost:54321/functions/v1/wallet-operations",
		},
		Venue: VenueConfig{
			InfoURL: "https://api.hyperliquid.xyz/info",
			WsURL:   "wss://api.hyperliquid.xyz/ws",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "walletsync-archive",
			ForcePathStyle: true,
		},
		Balance: BalanceConfig{
			Assets:          []string{"USDC", "XAUT", "TRZRY"},
			Chain:           "ethereum",
			CacheTTL:        duration{30 * time.Second},
			FetchTimeout:    duration{2500 * time.Millisecond},
			AssetTimeout:    duration{1500 * time.Millisecond},
			RefreshInterval: duration{time.Minute},
			SweepInterval:   duration{0},
		},
		Book: BookConfig{
			DefaultMarket:  "XAUT",
			ThrottleWindow: duration{300 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchLimit:    5000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet RPC
	if c.WalletRPC.BaseURL == "" {
		errs = append(errs, "wallet_rpc: base_url must not be empty")
	}

	// Venue endpoints
	if c.Venue.InfoURL == "" {
		errs = append(errs, "venue: info_url must not be empty")
	}
	if c.Venue.WsURL == "" {
		errs = append(errs, "venue: ws_url must not be empty")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when archiving is on)
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.BatchLimit < 1 {
			errs = append(errs, "archive: batch_limit must be >= 1")
		}
	}

	// Balance
	if len(c.Balance.Assets) == 0 {
		errs = append(errs, "balance: assets must not be empty")
	}
	if c.Balance.Chain == "" {
		errs = append(errs, "balance: chain must not be empty")
	}
	if c.Balance.CacheTTL.Duration <= 0 {
		errs = append(errs, "balance: cache_ttl must be > 0")
	}
	if c.Balance.FetchTimeout.Duration <= 0 {
		errs = append(errs, "balance: fetch_timeout must be > 0")
	}
	if c.Balance.AssetTimeout.Duration <= 0 {
		errs = append(errs, "balance: asset_timeout must be > 0")
	}
	if c.Balance.SweepInterval.Duration < 0 {
		errs = append(errs, "balance: sweep_interval must be >= 0")
	}

	// Book
	if c.Book.ThrottleWindow.Duration <= 0 {
		errs = append(errs, "book: throttle_window must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
