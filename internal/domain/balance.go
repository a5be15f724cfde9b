package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the amount of a single asset held by a wallet on a chain.
// A fetched balance set is an immutable snapshot; it is replaced wholesale
// on each successful fetch, never merged.
type Balance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Chain  string          `json:"chain"`
}

// BalanceSnapshot is a full multi-asset balance set for one wallet address,
// stamped with the time it was fetched.
type BalanceSnapshot struct {
	Address   string    `json:"address"`
	Balances  []Balance `json:"balances"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AssetBalance is the per-asset result of a batch balance call, as reported
// by the wallet RPC. OK is false when the upstream marked this asset's leg of
// the batch as failed; Reason carries the upstream error text for logging.
type AssetBalance struct {
	Asset  string
	Amount decimal.Decimal
	Chain  string
	OK     bool
	Reason string
}

// ZeroBalances builds the placeholder balance set for the given tracked
// assets: every amount is zero. Used when a fetch fails with no cached data
// so callers are never blocked waiting on a balance.
func ZeroBalances(assets []string, chain string) []Balance {
	out := make([]Balance, 0, len(assets))
	for _, a := range assets {
		out = append(out, Balance{Asset: a, Amount: decimal.Zero, Chain: chain})
	}
	return out
}
