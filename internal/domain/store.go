package domain

import (
	"context"
	"io"
	"time"
)

// WalletStore looks up and records platform-generated custodial wallets.
type WalletStore interface {
	GetByUser(ctx context.Context, userID string) (GeneratedWallet, error)
	Upsert(ctx context.Context, w GeneratedWallet) error
}

// SnapshotStore persists the history of accepted balance snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap BalanceSnapshot) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]BalanceSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlobWriter writes archived snapshot batches to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BalanceSource is the wallet RPC collaborator: a batch call for every
// tracked asset with a per-asset fallback for legs the batch marks failed.
type BalanceSource interface {
	GetAllBalances(ctx context.Context, address string) ([]AssetBalance, error)
	GetBalance(ctx context.Context, address, asset string) (AssetBalance, error)
}

// VenueReader reads a wallet's balance at the trading venue. Wallet detection
// uses it to prefer wallets that already hold usable funds.
type VenueReader interface {
	VenueBalance(ctx context.Context, address string) (VenueBalanceResult, error)
}

// MarketFeed is a live orderbook transport for a single venue. Implementations
// own the connection; the subscriber layer owns throttling and retention.
type MarketFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, market string) error
	Unsubscribe(ctx context.Context, market string) error
	OnBook(handler func(BookSnapshot))
	Close() error
}
