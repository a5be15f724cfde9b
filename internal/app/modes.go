package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trezury/walletsync/internal/cache/memory"
	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/feed"
	"github.com/trezury/walletsync/internal/server"
	"github.com/trezury/walletsync/internal/server/handler"
	"github.com/trezury/walletsync/internal/server/ws"
	"github.com/trezury/walletsync/internal/service"
)

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// localCacheMaxAge is how long swept local-cache entries are retained as
// stale fallbacks before a sweep may drop them.
const localCacheMaxAge = 24 * time.Hour

// services bundles the runtime built on top of the wired dependencies.
type services struct {
	balances   *service.BalanceService
	wallets    *service.WalletService
	refresher  *service.Refresher
	subscriber *feed.Subscriber
	local      *memory.Store
}

// buildServices constructs the service layer shared by all modes.
func (a *App) buildServices(deps *Dependencies) *services {
	local := memory.NewStore()
	balanceSvc := service.NewBalanceService(service.BalanceServiceConfig{
		Cache:        local,
		Shared:       deps.BalanceCache,
		Source:       deps.BalanceSource,
		History:      deps.SnapshotStore,
		Bus:          deps.SignalBus,
		Assets:       a.cfg.Balance.Assets,
		Chain:        a.cfg.Balance.Chain,
		CacheTTL:     a.cfg.Balance.CacheTTL.Duration,
		FetchTimeout: a.cfg.Balance.FetchTimeout.Duration,
		AssetTimeout: a.cfg.Balance.AssetTimeout.Duration,
	}, a.logger)

	sub := feed.NewSubscriber(deps.MarketFeed, a.cfg.Book.ThrottleWindow.Duration, a.logger)
	sub.OnForward(func(snap domain.BookSnapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := deps.BookCache.SetSnapshot(ctx, snap); err != nil {
			a.logger.Warn("book cache write failed", slog.String("error", err.Error()))
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if err := deps.SignalBus.Publish(ctx, "ch:book:"+snap.Market, payload); err != nil {
			a.logger.Warn("book publish failed", slog.String("error", err.Error()))
		}
	})

	return &services{
		balances:   balanceSvc,
		wallets:    service.NewWalletService(deps.WalletStore, deps.VenueReader, a.logger),
		refresher:  service.NewRefresher(balanceSvc, a.cfg.Balance.RefreshInterval.Duration, a.logger),
		subscriber: sub,
		local:      local,
	}
}

// startSweeper periodically drops ancient local-cache entries. Disabled when
// sweep_interval is zero.
func (a *App) startSweeper(ctx context.Context, svcs *services, g *errgroup.Group) {
	interval := a.cfg.Balance.SweepInterval.Duration
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := svcs.local.Sweep(localCacheMaxAge); n > 0 {
					a.logger.Debug("local cache swept", slog.Int("dropped", n))
				}
			}
		}
	})
}

// startFeed connects the venue websocket and watches the default market.
func (a *App) startFeed(ctx context.Context, deps *Dependencies, svcs *services, g *errgroup.Group) error {
	if err := deps.MarketFeed.Connect(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		if err := svcs.subscriber.Stop(context.Background()); err != nil {
			a.logger.Warn("subscriber stop failed", slog.String("error", err.Error()))
		}
		_ = deps.MarketFeed.Close()
		return ctx.Err()
	})
	return svcs.subscriber.Watch(ctx, a.cfg.Book.DefaultMarket)
}

// startServer builds and runs the HTTP API plus the WebSocket hub.
func (a *App) startServer(ctx context.Context, deps *Dependencies, svcs *services, g *errgroup.Group) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:          a.cfg.Mode,
		DefaultMarket: a.cfg.Book.DefaultMarket,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, a.logger),
		Balances: handler.NewBalanceHandler(svcs.balances, a.logger),
		Wallets:  handler.NewWalletHandler(svcs.wallets, a.logger),
		Books:    handler.NewBookHandler(svcs.subscriber, deps.BookCache, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// startArchiver runs periodic snapshot archival to object storage.
func (a *App) startArchiver(ctx context.Context, deps *Dependencies, g *errgroup.Group) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := deps.Archiver.ArchiveBefore(ctx, cutoff)
				if err != nil {
					a.logger.Error("snapshot archival failed", slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					a.logger.Info("snapshots archived",
						slog.Int64("count", n),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}

// ServeMode runs the HTTP + WebSocket API with the live market feed.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if err := a.startFeed(ctx, deps, svcs, g); err != nil {
		a.logger.Warn("market feed unavailable at startup",
			slog.String("error", err.Error()),
		)
	}
	a.startServer(ctx, deps, svcs, g)
	g.Go(func() error {
		return svcs.refresher.Run(ctx)
	})

	a.startSweeper(ctx, svcs, g)

	return g.Wait()
}

// MonitorMode runs the market feed and balance refresher headless, keeping
// the shared caches warm for other instances.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if err := a.startFeed(ctx, deps, svcs, g); err != nil {
		return err
	}
	g.Go(func() error {
		return svcs.refresher.Run(ctx)
	})
	a.startArchiver(ctx, deps, g)

	a.startSweeper(ctx, svcs, g)

	return g.Wait()
}

// FullMode runs everything: API server, market feed, refresher and archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if err := a.startFeed(ctx, deps, svcs, g); err != nil {
		a.logger.Warn("market feed unavailable at startup",
			slog.String("error", err.Error()),
		)
	}
	a.startServer(ctx, deps, svcs, g)
	g.Go(func() error {
		return svcs.refresher.Run(ctx)
	})
	a.startArchiver(ctx, deps, g)

	a.startSweeper(ctx, svcs, g)

	return g.Wait()
}
