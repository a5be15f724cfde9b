package domain

import (
	"context"
	"time"
)

// SnapshotCache is the process-wide cache shared by every consumer in the
// service. Freshness is decided at read time: Get returns the entry only when
// it is younger than the caller-supplied TTL, so different consumers can apply
// different freshness requirements to the same key. Stale entries are kept
// (not deleted) so they remain available as a fallback via Last.
type SnapshotCache interface {
	Get(key string, ttl time.Duration) (any, bool)
	Last(key string) (any, time.Time, bool)
	Set(key string, data any)
	Invalidate(key string)
}

// BalanceCache is the shared second-level cache for last-known-good balance
// snapshots, visible across service instances.
type BalanceCache interface {
	SetSnapshot(ctx context.Context, snap BalanceSnapshot) error
	GetSnapshot(ctx context.Context, address string) (BalanceSnapshot, error)
	Invalidate(ctx context.Context, address string) error
}

// BookCache stores the last retained (non-empty) orderbook snapshot per
// market for consumers outside the feed goroutine.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, market string) (BookSnapshot, error)
}

// SignalBus provides pub/sub fan-out of balance and book events to the
// WebSocket hub and any other interested instance.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
