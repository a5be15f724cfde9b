package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/trezury/walletsync/internal/blob/s3"
	"github.com/trezury/walletsync/internal/cache/redis"
	"github.com/trezury/walletsync/internal/config"
	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/platform/hyperliquid"
	"github.com/trezury/walletsync/internal/platform/walletrpc"
	"github.com/trezury/walletsync/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	WalletStore   domain.WalletStore
	SnapshotStore domain.SnapshotStore

	// Caches and messaging
	BalanceCache domain.BalanceCache
	BookCache    domain.BookCache
	SignalBus    domain.SignalBus

	// Platform clients
	BalanceSource domain.BalanceSource
	VenueReader   domain.VenueReader
	MarketFeed    domain.MarketFeed

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "serve", "full":
		return true
	case "monitor":
		// Monitor only persists snapshot history when archival is on.
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.WalletStore = postgres.NewWalletStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BalanceCache = redis.NewBalanceCache(redisClient)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Platform clients ---
	deps.BalanceSource = walletrpc.New(walletrpc.Config{
		BaseURL:      cfg.WalletRPC.BaseURL,
		APIKey:       cfg.WalletRPC.APIKey,
		DefaultChain: cfg.Balance.Chain,
	})
	deps.VenueReader = hyperliquid.NewClient(cfg.Venue.InfoURL)
	deps.MarketFeed = hyperliquid.NewWSClient(cfg.Venue.WsURL)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		if deps.SnapshotStore == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive enabled but no snapshot store wired")
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.SnapshotStore, cfg.Archive.BatchLimit)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.WalletStore != nil),
		slog.Bool("archiver", deps.Archiver != nil),
	)

	return deps, cleanup, nil
}
