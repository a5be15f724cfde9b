package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trezury/walletsync/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Balance
// sets are stored as JSONB so schema changes in the tracked asset list do
// not require migrations.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert records one accepted balance snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.BalanceSnapshot) error {
	balances, err := json.Marshal(snap.Balances)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot balances for %s: %w", snap.Address, err)
	}

	const query = `
		INSERT INTO balance_snapshots (id, address, balances, fetched_at)
		VALUES ($1, $2, $3, $4)`

	_, err = s.pool.Exec(ctx, query, uuid.New(), snap.Address, balances, snap.FetchedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.Address, err)
	}
	return nil
}

// ListBefore returns up to limit snapshots fetched before cutoff, oldest
// first. Used by the archiver to page through expired rows.
func (s *SnapshotStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.BalanceSnapshot, error) {
	const query = `
		SELECT address, balances, fetched_at
		FROM balance_snapshots
		WHERE fetched_at < $1
		ORDER BY fetched_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.BalanceSnapshot
	for rows.Next() {
		var (
			snap domain.BalanceSnapshot
			raw  []byte
		)
		if err := rows.Scan(&snap.Address, &raw, &snap.FetchedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot row: %w", err)
		}
		if err := json.Unmarshal(raw, &snap.Balances); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal snapshot balances for %s: %w", snap.Address, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate snapshot rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes snapshots fetched before cutoff and returns how many
// rows were deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM balance_snapshots WHERE fetched_at < $1`

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
