package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezury/walletsync/internal/cache/memory"
	"github.com/trezury/walletsync/internal/domain"
)

const (
	addrA = "0x52908400098527886E0F7030069857D2E4169EE7"
	addrB = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

// switchSource serves per-address balances and can hold one address's fetch
// open until released, to model a slow request being overtaken.
type switchSource struct {
	mu      sync.Mutex
	amounts map[string]string // address -> USDC amount
	hold    map[string]chan struct{}
	started map[string]chan struct{}
}

func (s *switchSource) GetAllBalances(ctx context.Context, address string) ([]domain.AssetBalance, error) {
	addr := strings.ToLower(address)
	s.mu.Lock()
	hold := s.hold[addr]
	started := s.started[addr]
	amount := s.amounts[addr]
	s.mu.Unlock()

	if started != nil {
		close(started)
		s.mu.Lock()
		delete(s.started, addr)
		s.mu.Unlock()
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []domain.AssetBalance{{
		Asset:  "USDC",
		Amount: decimal.RequireFromString(amount),
		Chain:  "ethereum",
		OK:     true,
	}}, nil
}

func (s *switchSource) GetBalance(ctx context.Context, address, asset string) (domain.AssetBalance, error) {
	return domain.AssetBalance{}, domain.ErrUnavailable
}

func newRefresherFixture(src domain.BalanceSource) *Refresher {
	svc := NewBalanceService(BalanceServiceConfig{
		Cache:        memory.NewStore(),
		Source:       src,
		Assets:       []string{"USDC"},
		Chain:        "ethereum",
		CacheTTL:     30 * time.Second,
		FetchTimeout: time.Second,
		AssetTimeout: time.Second,
	}, slog.New(slog.DiscardHandler))
	return NewRefresher(svc, time.Minute, slog.New(slog.DiscardHandler))
}

func TestSetActiveCommits(t *testing.T) {
	src := &switchSource{amounts: map[string]string{
		strings.ToLower(addrA): "11",
	}}
	r := newRefresherFixture(src)

	balances, err := r.SetActive(context.Background(), addrA)
	require.NoError(t, err)
	require.Len(t, balances, 1)

	active, current := r.Active()
	assert.Equal(t, strings.ToLower(addrA), active)
	assert.True(t, current[0].Amount.Equal(decimal.NewFromInt(11)))
}

func TestSetActiveLastRequestWins(t *testing.T) {
	holdA := make(chan struct{})
	startedA := make(chan struct{})
	src := &switchSource{
		amounts: map[string]string{
			strings.ToLower(addrA): "11",
			strings.ToLower(addrB): "22",
		},
		hold:    map[string]chan struct{}{strings.ToLower(addrA): holdA},
		started: map[string]chan struct{}{strings.ToLower(addrA): startedA},
	}
	r := newRefresherFixture(src)

	// A's switch hangs on the slow upstream call.
	errA := make(chan error, 1)
	go func() {
		_, err := r.SetActive(context.Background(), addrA)
		errA <- err
	}()
	<-startedA

	// B overtakes while A is still in flight. B must win.
	balances, err := r.SetActive(context.Background(), addrB)
	require.NoError(t, err)
	assert.True(t, balances[0].Amount.Equal(decimal.NewFromInt(22)))

	// A's request was cancelled; it must surface as superseded and must not
	// overwrite B's committed state.
	assert.ErrorIs(t, <-errA, domain.ErrSuperseded)
	close(holdA)

	active, current := r.Active()
	assert.Equal(t, strings.ToLower(addrB), active)
	assert.True(t, current[0].Amount.Equal(decimal.NewFromInt(22)))
}

func TestSetActiveSameAddressResubmit(t *testing.T) {
	lowA := strings.ToLower(addrA)
	holdA := make(chan struct{})
	startedA := make(chan struct{})
	src := &switchSource{
		amounts: map[string]string{lowA: "11"},
		hold:    map[string]chan struct{}{lowA: holdA},
		started: map[string]chan struct{}{lowA: startedA},
	}
	r := newRefresherFixture(src)

	// The first switch hangs on the slow upstream call.
	errFirst := make(chan error, 1)
	go func() {
		_, err := r.SetActive(context.Background(), addrA)
		errFirst <- err
	}()
	<-startedA

	// Only the first call may block; the resubmission gets a fast upstream.
	src.mu.Lock()
	delete(src.hold, lowA)
	src.mu.Unlock()

	// Resubmitting the same address shares the dedup key with the cancelled
	// predecessor. The newer request must still commit instead of inheriting
	// the predecessor's cancellation.
	balances, err := r.SetActive(context.Background(), addrA)
	require.NoError(t, err)
	assert.True(t, balances[0].Amount.Equal(decimal.NewFromInt(11)))

	assert.ErrorIs(t, <-errFirst, domain.ErrSuperseded)
	close(holdA)

	active, current := r.Active()
	assert.Equal(t, lowA, active)
	assert.True(t, current[0].Amount.Equal(decimal.NewFromInt(11)))
}

func TestTrackValidatesAddress(t *testing.T) {
	r := newRefresherFixture(&switchSource{amounts: map[string]string{}})

	require.NoError(t, r.Track(addrA))
	assert.ErrorIs(t, r.Track("nope"), domain.ErrInvalidInput)
}
