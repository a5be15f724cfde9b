package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezury/walletsync/internal/domain"
)

const (
	externalAddr  = "0x52908400098527886E0F7030069857D2E4169EE7"
	generatedAddr = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type fakeWalletStore struct {
	wallet domain.GeneratedWallet
	err    error
	upsert []domain.GeneratedWallet
}

func (f *fakeWalletStore) GetByUser(ctx context.Context, userID string) (domain.GeneratedWallet, error) {
	if f.err != nil {
		return domain.GeneratedWallet{}, f.err
	}
	return f.wallet, nil
}

func (f *fakeWalletStore) Upsert(ctx context.Context, w domain.GeneratedWallet) error {
	f.upsert = append(f.upsert, w)
	return nil
}

type fakeVenue struct {
	balances map[string]decimal.Decimal
	err      error
}

func (f *fakeVenue) VenueBalance(ctx context.Context, address string) (domain.VenueBalanceResult, error) {
	if f.err != nil {
		return domain.VenueBalanceResult{}, f.err
	}
	return domain.VenueBalanceResult{Spot: f.balances[strings.ToLower(address)]}, nil
}

func newWalletService(store domain.WalletStore, venue domain.VenueReader) *WalletService {
	return NewWalletService(store, venue, slog.New(slog.DiscardHandler))
}

func TestDetectFundedExternalWins(t *testing.T) {
	// The generated wallet holds more, but a funded external wallet always
	// takes priority.
	store := &fakeWalletStore{wallet: domain.GeneratedWallet{UserID: "u1", Address: generatedAddr}}
	venue := &fakeVenue{balances: map[string]decimal.Decimal{
		strings.ToLower(externalAddr):  decimal.NewFromInt(5),
		strings.ToLower(generatedAddr): decimal.NewFromInt(10),
	}}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", externalAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletExternal, w.Type)
	assert.Equal(t, strings.ToLower(externalAddr), w.Address)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(5)))
	assert.True(t, w.IsReady)
}

func TestDetectGeneratedBeatsUnfundedExternal(t *testing.T) {
	store := &fakeWalletStore{wallet: domain.GeneratedWallet{UserID: "u1", Address: generatedAddr}}
	venue := &fakeVenue{balances: map[string]decimal.Decimal{
		strings.ToLower(generatedAddr): decimal.NewFromInt(3),
	}}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", externalAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletGenerated, w.Type)
	assert.Equal(t, strings.ToLower(generatedAddr), w.Address)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(3)))
}

func TestDetectGeneratedWinsWithZeroBalance(t *testing.T) {
	// An existing generated wallet is selected even when empty.
	store := &fakeWalletStore{wallet: domain.GeneratedWallet{UserID: "u1", Address: generatedAddr}}
	venue := &fakeVenue{}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletGenerated, w.Type)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.IsReady)
}

func TestDetectUnfundedExternalFallback(t *testing.T) {
	store := &fakeWalletStore{err: domain.ErrNotFound}
	venue := &fakeVenue{}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", externalAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletExternal, w.Type)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.IsReady)
}

func TestDetectNoWallet(t *testing.T) {
	store := &fakeWalletStore{err: domain.ErrNotFound}
	venue := &fakeVenue{}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletNone, w.Type)
	assert.Empty(t, w.Address)
	assert.False(t, w.IsReady)
}

func TestDetectVenueOutageDegradesToZero(t *testing.T) {
	// A venue outage must not fail detection; balances read as zero, so the
	// external wallet is treated as unfunded and the generated wallet wins.
	store := &fakeWalletStore{wallet: domain.GeneratedWallet{UserID: "u1", Address: generatedAddr}}
	venue := &fakeVenue{err: errors.New("venue down")}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", externalAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletGenerated, w.Type)
	assert.True(t, w.Balance.IsZero())
}

func TestDetectStoreOutageFallsBackToExternal(t *testing.T) {
	store := &fakeWalletStore{err: errors.New("db down")}
	venue := &fakeVenue{}

	w, err := newWalletService(store, venue).Detect(context.Background(), "u1", externalAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletExternal, w.Type)
}

func TestDetectInvalidExternalAddress(t *testing.T) {
	store := &fakeWalletStore{}
	venue := &fakeVenue{}

	_, err := newWalletService(store, venue).Detect(context.Background(), "u1", "bogus")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProvisionNormalizesAddress(t *testing.T) {
	store := &fakeWalletStore{}
	svc := newWalletService(store, &fakeVenue{})

	err := svc.Provision(context.Background(), domain.GeneratedWallet{
		UserID:  "u1",
		Address: generatedAddr,
		Chain:   "ethereum",
	})
	require.NoError(t, err)
	require.Len(t, store.upsert, 1)
	assert.Equal(t, strings.ToLower(generatedAddr), store.upsert[0].Address)

	err = svc.Provision(context.Background(), domain.GeneratedWallet{UserID: "", Address: generatedAddr})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
