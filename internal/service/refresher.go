package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/guard"
)

// Refresher keeps a tracked set of addresses warm with periodic silent
// fetches, and serializes active-wallet switches so that only the most
// recent switch may commit its result.
type Refresher struct {
	svc      *BalanceService
	interval time.Duration
	logger   *slog.Logger

	ctrl guard.Controller

	mu      sync.Mutex
	tracked map[string]struct{}
	active  string
	current []domain.Balance
}

// NewRefresher creates a Refresher over svc.
func NewRefresher(svc *BalanceService, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		svc:      svc,
		interval: interval,
		logger:   logger.With(slog.String("component", "balance_refresher")),
		tracked:  make(map[string]struct{}),
	}
}

// Track adds an address to the periodic refresh set.
func (r *Refresher) Track(address string) error {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked[addr] = struct{}{}
	return nil
}

// Untrack removes an address from the refresh set.
func (r *Refresher) Untrack(address string) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracked, addr)
}

// SetActive switches the active address and fetches its balances. A switch
// started later always wins: any older in-flight switch is cancelled, and a
// cancelled switch returns domain.ErrSuperseded without committing anything.
func (r *Refresher) SetActive(ctx context.Context, address string) ([]domain.Balance, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	sctx, ticket := r.ctrl.Acquire(ctx)
	balances, err := r.svc.Fetch(sctx, addr, FetchOptions{Force: true})
	if err != nil {
		if guard.IsCancel(err) && !ticket.Latest() {
			return nil, domain.ErrSuperseded
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !ticket.Latest() {
		return nil, domain.ErrSuperseded
	}
	r.active = addr
	r.current = balances
	r.tracked[addr] = struct{}{}
	return balances, nil
}

// Active returns the active address and its last committed balances.
func (r *Refresher) Active() (string, []domain.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.current
}

// Run refreshes every tracked address each interval until ctx is cancelled.
// Refreshes are silent and forced, so they renew caches without ever
// flipping the loading flag.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("balance refresher started", slog.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.ctrl.Close()
			r.logger.Info("balance refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	r.mu.Lock()
	addrs := make([]string, 0, len(r.tracked))
	for addr := range r.tracked {
		addrs = append(addrs, addr)
	}
	active := r.active
	r.mu.Unlock()
	sort.Strings(addrs)

	for _, addr := range addrs {
		balances, err := r.svc.Fetch(ctx, addr, FetchOptions{Force: true, Silent: true})
		if err != nil {
			if guard.IsCancel(err) {
				return
			}
			r.logger.Warn("silent refresh failed",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
			continue
		}
		if addr == active {
			r.mu.Lock()
			if r.active == addr {
				r.current = balances
			}
			r.mu.Unlock()
		}
	}
}
