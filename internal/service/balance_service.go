// Package service holds the business rules of walletsync: balance
// fetching with partial-failure tolerance, active-wallet detection and the
// background refresh loop. Services depend only on the interfaces in
// internal/domain; the platform and storage packages satisfy them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/flight"
	"github.com/trezury/walletsync/internal/guard"
)

// FetchOptions control a single balance fetch.
type FetchOptions struct {
	// Force bypasses the fresh-cache short circuit. Deduplication still
	// applies: concurrent forced fetches for one address share one call.
	Force bool

	// Silent suppresses the loading flag for the address. Background
	// refreshes use this so pollers never flicker consumer state.
	Silent bool

	// TTL overrides the configured cache freshness window when positive.
	TTL time.Duration
}

// BalanceServiceConfig wires a BalanceService.
type BalanceServiceConfig struct {
	Cache   domain.SnapshotCache
	Shared  domain.BalanceCache  // optional cross-instance cache
	Source  domain.BalanceSource
	History domain.SnapshotStore // optional snapshot history
	Bus     domain.SignalBus     // optional change notifications

	Assets       []string
	Chain        string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	AssetTimeout time.Duration
}

// BalanceService fetches wallet balances with a fixed degradation order:
// fresh cache, deduplicated remote fetch with per-asset fallback, stale
// cache, zero-amount placeholder. A fetch never returns an empty result for
// a valid address; consumers always have something to render.
type BalanceService struct {
	cache   domain.SnapshotCache
	shared  domain.BalanceCache
	source  domain.BalanceSource
	history domain.SnapshotStore
	bus     domain.SignalBus
	flight  *flight.Group[[]domain.Balance]
	logger  *slog.Logger

	assets       []string
	chain        string
	ttl          time.Duration
	fetchTimeout time.Duration
	assetTimeout time.Duration

	mu      sync.Mutex
	loading map[string]bool
	lastErr map[string]string
}

// NewBalanceService creates a BalanceService.
func NewBalanceService(cfg BalanceServiceConfig, logger *slog.Logger) *BalanceService {
	return &BalanceService{
		cache:        cfg.Cache,
		shared:       cfg.Shared,
		source:       cfg.Source,
		history:      cfg.History,
		bus:          cfg.Bus,
		flight:       flight.NewGroup[[]domain.Balance](),
		logger:       logger.With(slog.String("component", "balance_service")),
		assets:       cfg.Assets,
		chain:        cfg.Chain,
		ttl:          cfg.CacheTTL,
		fetchTimeout: cfg.FetchTimeout,
		assetTimeout: cfg.AssetTimeout,
		loading:      make(map[string]bool),
		lastErr:      make(map[string]string),
	}
}

// Fetch returns the balances for address. The error is non-nil only for an
// invalid address or a cancelled context; every upstream failure degrades to
// stale or placeholder data instead.
func (s *BalanceService) Fetch(ctx context.Context, address string, opts FetchOptions) ([]domain.Balance, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	ttl := s.ttl
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	key := balanceKey(addr)

	if !opts.Force {
		if v, ok := s.cache.Get(key, ttl); ok {
			if balances, ok := v.([]domain.Balance); ok {
				return cloneBalances(balances), nil
			}
		}
	}

	if !opts.Silent {
		s.setLoading(addr, true)
		defer s.setLoading(addr, false)
	}

	balances, shared, err := s.flight.Do(key, func() ([]domain.Balance, error) {
		return s.fetchRemote(ctx, addr)
	})
	if err != nil && guard.IsCancel(err) && ctx.Err() == nil {
		// The shared call was led by a request that has since been cancelled,
		// but this caller is still live. Detach the dead call and fetch again
		// so the newest request is not failed by its predecessor.
		s.flight.Forget(key)
		balances, shared, err = s.flight.Do(key, func() ([]domain.Balance, error) {
			return s.fetchRemote(ctx, addr)
		})
	}
	if err != nil {
		if guard.IsCancel(err) {
			return nil, err
		}
		return s.degrade(ctx, addr, key, err), nil
	}
	if shared {
		s.logger.Debug("balance fetch deduplicated", slog.String("address", addr))
	}

	s.clearError(addr)
	return cloneBalances(balances), nil
}

// Loading reports whether a non-silent fetch for address is in flight.
func (s *BalanceService) Loading(address string) bool {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[addr]
}

// LastError returns the sticky error message for address, or "" when the
// last fetch succeeded (possibly degraded).
func (s *BalanceService) LastError(address string) string {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "invalid address"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[addr]
}

// Invalidate drops the cached snapshot for address so the next fetch goes
// upstream. Used after deposits and withdrawals.
func (s *BalanceService) Invalidate(ctx context.Context, address string) error {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	s.cache.Invalidate(balanceKey(addr))
	if s.shared != nil {
		if err := s.shared.Invalidate(ctx, addr); err != nil {
			return fmt.Errorf("service: invalidate %s: %w", addr, err)
		}
	}
	return nil
}

// fetchRemote performs the upstream fetch: one batch call, then per-asset
// fallback calls for any failed legs, then commit to caches and history.
func (s *BalanceService) fetchRemote(ctx context.Context, addr string) ([]domain.Balance, error) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	legs, err := s.source.GetAllBalances(fctx, addr)
	if err != nil {
		return nil, err
	}

	byAsset := make(map[string]domain.AssetBalance, len(legs))
	for _, leg := range legs {
		if !leg.OK {
			leg = s.recoverAsset(ctx, addr, leg)
		}
		byAsset[strings.ToUpper(leg.Asset)] = leg
	}

	balances := make([]domain.Balance, 0, len(s.assets))
	seen := make(map[string]bool, len(s.assets))
	for _, asset := range s.assets {
		seen[asset] = true
		leg, ok := byAsset[asset]
		if !ok {
			balances = append(balances, domain.Balance{Asset: asset, Amount: decimal.Zero, Chain: s.chain})
			continue
		}
		balances = append(balances, legToBalance(leg, s.chain))
	}
	// Holdings the source reports beyond the tracked list are kept.
	for _, leg := range legs {
		if seen[strings.ToUpper(leg.Asset)] {
			continue
		}
		balances = append(balances, legToBalance(byAsset[strings.ToUpper(leg.Asset)], s.chain))
	}

	s.commit(ctx, addr, balances)
	return balances, nil
}

// recoverAsset retries a single failed leg with a shorter timeout. A second
// failure degrades the leg to a zero amount rather than failing the fetch.
func (s *BalanceService) recoverAsset(ctx context.Context, addr string, leg domain.AssetBalance) domain.AssetBalance {
	actx, cancel := context.WithTimeout(ctx, s.assetTimeout)
	defer cancel()

	fb, err := s.source.GetBalance(actx, addr, leg.Asset)
	if err == nil && fb.OK {
		return fb
	}

	reason := leg.Reason
	if err != nil {
		reason = err.Error()
	}
	s.logger.Warn("asset balance degraded to zero",
		slog.String("address", addr),
		slog.String("asset", leg.Asset),
		slog.String("reason", reason),
	)
	leg.Amount = decimal.Zero
	leg.OK = false
	return leg
}

// degrade handles a total fetch failure: stale local cache first, then the
// shared cache, then the zero-amount placeholder. Only the placeholder path
// records a sticky error, since it is the only one with no real data behind it.
func (s *BalanceService) degrade(ctx context.Context, addr, key string, cause error) []domain.Balance {
	if v, at, ok := s.cache.Last(key); ok {
		if balances, ok := v.([]domain.Balance); ok {
			s.logger.Warn("balance fetch failed, serving stale cache",
				slog.String("address", addr),
				slog.Time("cached_at", at),
				slog.String("error", cause.Error()),
			)
			s.clearError(addr)
			return cloneBalances(balances)
		}
	}

	if s.shared != nil {
		if snap, err := s.shared.GetSnapshot(ctx, addr); err == nil {
			s.logger.Warn("balance fetch failed, serving shared cache",
				slog.String("address", addr),
				slog.Time("cached_at", snap.FetchedAt),
				slog.String("error", cause.Error()),
			)
			s.cache.Set(key, cloneBalances(snap.Balances))
			s.clearError(addr)
			return snap.Balances
		}
	}

	s.logger.Error("balance fetch failed with no cached fallback",
		slog.String("address", addr),
		slog.String("error", cause.Error()),
	)
	s.setError(addr, cause.Error())
	return domain.ZeroBalances(s.assets, s.chain)
}

// commit stores a fresh snapshot everywhere interested: local cache, shared
// cache, history, and the change bus. Secondary sinks fail soft.
func (s *BalanceService) commit(ctx context.Context, addr string, balances []domain.Balance) {
	s.cache.Set(balanceKey(addr), cloneBalances(balances))

	snap := domain.BalanceSnapshot{
		Address:   addr,
		Balances:  balances,
		FetchedAt: time.Now().UTC(),
	}

	if s.shared != nil {
		if err := s.shared.SetSnapshot(ctx, snap); err != nil {
			s.logger.Warn("shared cache write failed", slog.String("error", err.Error()))
		}
	}
	if s.history != nil {
		if err := s.history.Insert(ctx, snap); err != nil {
			s.logger.Warn("snapshot history insert failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = s.bus.Publish(ctx, "ch:balance:"+addr, payload)
		}
		if err != nil {
			s.logger.Warn("balance publish failed", slog.String("error", err.Error()))
		}
	}
}

func (s *BalanceService) setLoading(addr string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.loading[addr] = true
	} else {
		delete(s.loading, addr)
	}
}

func (s *BalanceService) setError(addr, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr[addr] = msg
}

func (s *BalanceService) clearError(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastErr, addr)
}

// NormalizeAddress validates an EVM address and lowercases it so cache keys
// and store lookups are case-insensitive.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", fmt.Errorf("service: %w: empty address", domain.ErrNoAddress)
	}
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("service: %w: malformed address %q", domain.ErrInvalidInput, trimmed)
	}
	return strings.ToLower(trimmed), nil
}

func balanceKey(addr string) string {
	return "balances:" + addr
}

func legToBalance(leg domain.AssetBalance, defaultChain string) domain.Balance {
	chain := leg.Chain
	if chain == "" {
		chain = defaultChain
	}
	return domain.Balance{Asset: strings.ToUpper(leg.Asset), Amount: leg.Amount, Chain: chain}
}

func cloneBalances(in []domain.Balance) []domain.Balance {
	out := make([]domain.Balance, len(in))
	copy(out, in)
	return out
}
