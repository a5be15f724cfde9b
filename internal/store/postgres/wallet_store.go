package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trezury/walletsync/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetByUser returns the generated custodial wallet for a user.
// It returns domain.ErrNotFound when the user has no generated wallet.
func (s *WalletStore) GetByUser(ctx context.Context, userID string) (domain.GeneratedWallet, error) {
	const query = `
		SELECT user_id, address, chain
		FROM generated_wallets
		WHERE user_id = $1`

	var w domain.GeneratedWallet
	err := s.pool.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.Address, &w.Chain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GeneratedWallet{}, domain.ErrNotFound
		}
		return domain.GeneratedWallet{}, fmt.Errorf("postgres: get wallet for user %s: %w", userID, err)
	}
	return w, nil
}

// Upsert inserts or updates a user's generated wallet.
func (s *WalletStore) Upsert(ctx context.Context, w domain.GeneratedWallet) error {
	const query = `
		INSERT INTO generated_wallets (user_id, address, chain, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			address    = EXCLUDED.address,
			chain      = EXCLUDED.chain,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, w.UserID, w.Address, w.Chain)
	if err != nil {
		return fmt.Errorf("postgres: upsert wallet for user %s: %w", w.UserID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
