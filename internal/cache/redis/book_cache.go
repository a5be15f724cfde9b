package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezury/walletsync/internal/domain"
)

// bookTTL bounds how long a retained book snapshot survives without a feed
// update. Books go stale fast; anything older is worthless to consumers.
const bookTTL = 2 * time.Minute

// BookCache implements domain.BookCache using Redis string values with
// JSON-serialized snapshots.
//
// Key schema:
//
//	book:{market} - JSON BookSnapshot
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(market string) string { return "book:" + market }

// SetSnapshot stores a book snapshot for its market.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.Market, err)
	}

	if err := bc.rdb.Set(ctx, bookKey(snap.Market), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Market, err)
	}
	return nil
}

// GetSnapshot retrieves the retained snapshot for a market. It returns
// domain.ErrNotFound when no snapshot exists.
func (bc *BookCache) GetSnapshot(ctx context.Context, market string) (domain.BookSnapshot, error) {
	data, err := bc.rdb.Get(ctx, bookKey(market)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookSnapshot{}, domain.ErrNotFound
		}
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s: %w", market, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", market, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
