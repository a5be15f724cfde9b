package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/trezury/walletsync/internal/domain"
)

// WalletService decides which wallet a user trades with. The policy favors
// an external wallet that is already funded on the venue; otherwise a
// generated custodial wallet wins regardless of balance, and an unfunded
// external wallet is the last resort.
type WalletService struct {
	wallets domain.WalletStore
	venue   domain.VenueReader
	logger  *slog.Logger
}

// NewWalletService creates a WalletService.
func NewWalletService(wallets domain.WalletStore, venue domain.VenueReader, logger *slog.Logger) *WalletService {
	return &WalletService{
		wallets: wallets,
		venue:   venue,
		logger:  logger.With(slog.String("component", "wallet_service")),
	}
}

// Detect resolves the active trading wallet for a user. externalAddress is
// the user's connected wallet, or "" when none is connected.
//
// Priority: external wallet with a positive venue balance, then an existing
// generated wallet (any balance), then an unfunded external wallet. With no
// candidate at all the result has Type WalletNone and IsReady false.
func (s *WalletService) Detect(ctx context.Context, userID, externalAddress string) (domain.TradingWallet, error) {
	var external string
	if externalAddress != "" {
		addr, err := NormalizeAddress(externalAddress)
		if err != nil {
			return domain.TradingWallet{}, err
		}
		external = addr
	}

	externalBalance := decimal.Zero
	if external != "" {
		externalBalance = s.venueBalance(ctx, external)
		if externalBalance.IsPositive() {
			return domain.TradingWallet{
				Type:    domain.WalletExternal,
				Address: external,
				Balance: externalBalance,
				IsReady: true,
			}, nil
		}
	}

	gen, err := s.wallets.GetByUser(ctx, userID)
	switch {
	case err == nil && gen.Address != "":
		return domain.TradingWallet{
			Type:    domain.WalletGenerated,
			Address: gen.Address,
			Balance: s.venueBalance(ctx, gen.Address),
			IsReady: true,
		}, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		if ctx.Err() != nil {
			return domain.TradingWallet{}, fmt.Errorf("service: detect wallet: %w", err)
		}
		// A store outage must not lock the user out of the external
		// fallback below.
		s.logger.Warn("generated wallet lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if external != "" {
		return domain.TradingWallet{
			Type:    domain.WalletExternal,
			Address: external,
			Balance: externalBalance,
			IsReady: true,
		}, nil
	}

	return domain.TradingWallet{Type: domain.WalletNone, Balance: decimal.Zero}, nil
}

// Provision records a generated wallet for a user, replacing any previous one.
func (s *WalletService) Provision(ctx context.Context, wallet domain.GeneratedWallet) error {
	if wallet.UserID == "" {
		return fmt.Errorf("service: provision: %w: empty user id", domain.ErrInvalidInput)
	}
	addr, err := NormalizeAddress(wallet.Address)
	if err != nil {
		return err
	}
	wallet.Address = addr
	if err := s.wallets.Upsert(ctx, wallet); err != nil {
		return fmt.Errorf("service: provision %s: %w", wallet.UserID, err)
	}
	s.logger.Info("generated wallet recorded",
		slog.String("user_id", wallet.UserID),
		slog.String("address", addr),
	)
	return nil
}

// venueBalance reads the total venue balance for an address. Venue errors
// degrade to zero so detection keeps working through exchange outages.
func (s *WalletService) venueBalance(ctx context.Context, address string) decimal.Decimal {
	res, err := s.venue.VenueBalance(ctx, address)
	if err != nil {
		s.logger.Warn("venue balance check failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return decimal.Zero
	}
	return res.Total()
}
