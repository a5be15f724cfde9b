package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezury/walletsync/internal/cache/memory"
	"github.com/trezury/walletsync/internal/domain"
)

const testAddr = "0x52908400098527886E0F7030069857D2E4169EE7"

var testAssets = []string{"USDC", "XAUT", "TRZRY"}

// fakeSource is a scriptable domain.BalanceSource.
type fakeSource struct {
	mu           sync.Mutex
	allCalls     atomic.Int32
	singleCalls  atomic.Int32
	allFn        func(ctx context.Context) ([]domain.AssetBalance, error)
	singleFn     func(ctx context.Context, asset string) (domain.AssetBalance, error)
	blockAll     chan struct{} // when non-nil, GetAllBalances waits on it
	blockStarted chan struct{} // closed when a blocked call begins
}

func (f *fakeSource) GetAllBalances(ctx context.Context, address string) ([]domain.AssetBalance, error) {
	f.allCalls.Add(1)
	f.mu.Lock()
	block, started := f.blockAll, f.blockStarted
	f.mu.Unlock()
	if block != nil {
		if started != nil {
			close(started)
			f.mu.Lock()
			f.blockStarted = nil
			f.mu.Unlock()
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.allFn(ctx)
}

func (f *fakeSource) GetBalance(ctx context.Context, address, asset string) (domain.AssetBalance, error) {
	f.singleCalls.Add(1)
	if f.singleFn == nil {
		return domain.AssetBalance{}, errors.New("no single fetch scripted")
	}
	return f.singleFn(ctx, asset)
}

func okLegs(amounts map[string]string) []domain.AssetBalance {
	out := make([]domain.AssetBalance, 0, len(amounts))
	for _, asset := range testAssets {
		amt, ok := amounts[asset]
		if !ok {
			continue
		}
		out = append(out, domain.AssetBalance{
			Asset:  asset,
			Amount: decimal.RequireFromString(amt),
			Chain:  "ethereum",
			OK:     true,
		})
	}
	return out
}

func newTestService(src *fakeSource) *BalanceService {
	return NewBalanceService(BalanceServiceConfig{
		Cache:        memory.NewStore(),
		Source:       src,
		Assets:       testAssets,
		Chain:        "ethereum",
		CacheTTL:     30 * time.Second,
		FetchTimeout: time.Second,
		AssetTimeout: time.Second,
	}, slog.New(slog.DiscardHandler))
}

func amountOf(t *testing.T, balances []domain.Balance, asset string) decimal.Decimal {
	t.Helper()
	for _, b := range balances {
		if b.Asset == asset {
			return b.Amount
		}
	}
	t.Fatalf("asset %s not present in %v", asset, balances)
	return decimal.Zero
}

func TestFetchSuccess(t *testing.T) {
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		return okLegs(map[string]string{"USDC": "125.50", "XAUT": "0.25", "TRZRY": "10"}), nil
	}}
	svc := newTestService(src)

	balances, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.True(t, amountOf(t, balances, "USDC").Equal(decimal.RequireFromString("125.50")))
	assert.True(t, amountOf(t, balances, "XAUT").Equal(decimal.RequireFromString("0.25")))
	assert.Empty(t, svc.LastError(testAddr))
}

func TestFetchServesFreshCache(t *testing.T) {
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		return okLegs(map[string]string{"USDC": "1", "XAUT": "2", "TRZRY": "3"}), nil
	}}
	svc := newTestService(src)

	_, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.allCalls.Load())
}

func TestFetchForceBypassesCache(t *testing.T) {
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		return okLegs(map[string]string{"USDC": "1", "XAUT": "2", "TRZRY": "3"}), nil
	}}
	svc := newTestService(src)

	_, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), testAddr, FetchOptions{Force: true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.allCalls.Load())
}

func TestFetchPartialFailureFallbackSucceeds(t *testing.T) {
	src := &fakeSource{
		allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
			legs := okLegs(map[string]string{"USDC": "100", "TRZRY": "5"})
			legs = append(legs, domain.AssetBalance{Asset: "XAUT", OK: false, Reason: "rpc timeout"})
			return legs, nil
		},
		singleFn: func(ctx context.Context, asset string) (domain.AssetBalance, error) {
			return domain.AssetBalance{
				Asset:  asset,
				Amount: decimal.RequireFromString("0.75"),
				Chain:  "ethereum",
				OK:     true,
			}, nil
		},
	}
	svc := newTestService(src)

	balances, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)
	assert.True(t, amountOf(t, balances, "XAUT").Equal(decimal.RequireFromString("0.75")))
	assert.True(t, amountOf(t, balances, "USDC").Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int32(1), src.singleCalls.Load())
}

func TestFetchPartialFailureDegradesToZero(t *testing.T) {
	src := &fakeSource{
		allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
			legs := okLegs(map[string]string{"USDC": "100", "TRZRY": "5"})
			legs = append(legs, domain.AssetBalance{Asset: "XAUT", OK: false, Reason: "rpc timeout"})
			return legs, nil
		},
		singleFn: func(ctx context.Context, asset string) (domain.AssetBalance, error) {
			return domain.AssetBalance{}, errors.New("still down")
		},
	}
	svc := newTestService(src)

	balances, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)

	// The failed leg is zero; the healthy legs are intact; no error state.
	assert.True(t, amountOf(t, balances, "XAUT").IsZero())
	assert.True(t, amountOf(t, balances, "USDC").Equal(decimal.NewFromInt(100)))
	assert.Empty(t, svc.LastError(testAddr))
}

func TestFetchTotalFailureServesStaleCache(t *testing.T) {
	healthy := true
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		if !healthy {
			return nil, domain.ErrUnavailable
		}
		return okLegs(map[string]string{"USDC": "50", "XAUT": "1", "TRZRY": "2"}), nil
	}}
	svc := newTestService(src)

	_, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)

	healthy = false
	balances, err := svc.Fetch(context.Background(), testAddr, FetchOptions{Force: true})
	require.NoError(t, err)

	assert.True(t, amountOf(t, balances, "USDC").Equal(decimal.NewFromInt(50)))
	assert.Empty(t, svc.LastError(testAddr), "stale data is not an error state")
}

func TestFetchTotalFailureNoCacheReturnsPlaceholder(t *testing.T) {
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		return nil, domain.ErrUnavailable
	}}
	svc := newTestService(src)

	balances, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err, "a fetch failure must not surface as a fetch error")

	require.Len(t, balances, len(testAssets))
	for _, b := range balances {
		assert.True(t, b.Amount.IsZero())
		assert.Equal(t, "ethereum", b.Chain)
	}
	assert.NotEmpty(t, svc.LastError(testAddr))

	// A later successful fetch clears the error state.
	src.allFn = func(ctx context.Context) ([]domain.AssetBalance, error) {
		return okLegs(map[string]string{"USDC": "1", "XAUT": "1", "TRZRY": "1"}), nil
	}
	_, err = svc.Fetch(context.Background(), testAddr, FetchOptions{Force: true})
	require.NoError(t, err)
	assert.Empty(t, svc.LastError(testAddr))
}

func TestFetchInvalidAddress(t *testing.T) {
	svc := newTestService(&fakeSource{})

	_, err := svc.Fetch(context.Background(), "", FetchOptions{})
	assert.ErrorIs(t, err, domain.ErrNoAddress)

	_, err = svc.Fetch(context.Background(), "not-an-address", FetchOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFetchLoudSetsLoadingSilentDoesNot(t *testing.T) {
	run := func(t *testing.T, silent, wantLoading bool) {
		t.Helper()
		src := &fakeSource{
			allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
				return okLegs(map[string]string{"USDC": "1", "XAUT": "1", "TRZRY": "1"}), nil
			},
			blockAll:     make(chan struct{}),
			blockStarted: make(chan struct{}),
		}
		svc := newTestService(src)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = svc.Fetch(context.Background(), testAddr, FetchOptions{Silent: silent})
		}()

		<-src.blockStarted
		assert.Equal(t, wantLoading, svc.Loading(testAddr))
		close(src.blockAll)
		<-done
		assert.False(t, svc.Loading(testAddr))
	}

	t.Run("loud", func(t *testing.T) { run(t, false, true) })
	t.Run("silent", func(t *testing.T) { run(t, true, false) })
}

func TestFetchDeduplicatesConcurrent(t *testing.T) {
	src := &fakeSource{
		allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
			return okLegs(map[string]string{"USDC": "9", "XAUT": "9", "TRZRY": "9"}), nil
		},
		blockAll:     make(chan struct{}),
		blockStarted: make(chan struct{}),
	}
	svc := newTestService(src)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Fetch(context.Background(), testAddr, FetchOptions{Force: true})
		}(i)
	}

	<-src.blockStarted
	close(src.blockAll)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), src.allCalls.Load())
}

func TestFetchAddressIsCaseInsensitive(t *testing.T) {
	src := &fakeSource{allFn: func(ctx context.Context) ([]domain.AssetBalance, error) {
		return okLegs(map[string]string{"USDC": "1", "XAUT": "1", "TRZRY": "1"}), nil
	}}
	svc := newTestService(src)

	_, err := svc.Fetch(context.Background(), testAddr, FetchOptions{})
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), strings.ToLower(testAddr), FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.allCalls.Load(), "case variants share one cache entry")
}
