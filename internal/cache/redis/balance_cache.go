package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezury/walletsync/internal/domain"
)

// balanceTTL bounds how long a shared snapshot survives without refresh.
// This is deliberately much longer than the process cache TTL: the shared
// copy is a fallback, not a freshness source.
const balanceTTL = 10 * time.Minute

// BalanceCache implements domain.BalanceCache using Redis string values with
// JSON-serialized snapshots.
//
// Key schema:
//
//	balances:{address} - JSON BalanceSnapshot
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(address string) string {
	return "balances:" + strings.ToLower(address)
}

// SetSnapshot stores a snapshot for its wallet address.
func (bc *BalanceCache) SetSnapshot(ctx context.Context, snap domain.BalanceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal balances %s: %w", snap.Address, err)
	}

	if err := bc.rdb.Set(ctx, balanceKey(snap.Address), data, balanceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set balances %s: %w", snap.Address, err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for a wallet address. It returns
// domain.ErrNotFound when no snapshot exists.
func (bc *BalanceCache) GetSnapshot(ctx context.Context, address string) (domain.BalanceSnapshot, error) {
	data, err := bc.rdb.Get(ctx, balanceKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BalanceSnapshot{}, domain.ErrNotFound
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("redis: get balances %s: %w", address, err)
	}

	var snap domain.BalanceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("redis: unmarshal balances %s: %w", address, err)
	}
	return snap, nil
}

// Invalidate removes the snapshot for a wallet address.
func (bc *BalanceCache) Invalidate(ctx context.Context, address string) error {
	if err := bc.rdb.Del(ctx, balanceKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balances %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
