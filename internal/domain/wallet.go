package domain

import "github.com/shopspring/decimal"

// WalletType identifies which kind of wallet was selected as the active
// trading wallet for a user.
type WalletType string

const (
	// WalletGenerated is a platform-managed custodial wallet.
	WalletGenerated WalletType = "generated"

	// WalletExternal is a user-connected wallet (e.g. a browser extension);
	// the platform never holds its key.
	WalletExternal WalletType = "external"

	// WalletNone means no usable wallet could be resolved.
	WalletNone WalletType = ""
)

// TradingWallet is the outcome of wallet detection for a user. It is derived,
// not stored: recomputed each time detection runs. Balance is the wallet's
// balance at the trading venue, which drives the selection priority.
type TradingWallet struct {
	Type    WalletType      `json:"type"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	IsReady bool            `json:"is_ready"`
}

// GeneratedWallet is a custodial wallet row as stored for a user.
type GeneratedWallet struct {
	UserID  string
	Address string
	Chain   string
}

// VenueBalanceResult breaks down a wallet's funds at the trading venue into
// the spot account balance and perp account equity, both in USDC terms.
type VenueBalanceResult struct {
	Spot decimal.Decimal
	Perp decimal.Decimal
}

// Total returns the combined venue balance used by the detection policy.
func (r VenueBalanceResult) Total() decimal.Decimal {
	return r.Spot.Add(r.Perp)
}
