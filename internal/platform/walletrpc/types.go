package walletrpc

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trezury/walletsync/internal/domain"
)

// rpcRequest is the wire shape of a wallet-operations call.
type rpcRequest struct {
	Operation string `json:"operation"`
	Address   string `json:"address"`
	Asset     string `json:"asset,omitempty"`
}

// allBalancesResponse is the wire shape of a get_all_balances reply.
type allBalancesResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Balances []assetPayload `json:"balances"`
}

// assetPayload is one asset's leg inside a batch reply. Success is a pointer
// because older deployments of the edge function omit the field for
// successful legs.
type assetPayload struct {
	Asset   string      `json:"asset"`
	Balance json.Number `json:"balance"`
	Chain   string      `json:"chain,omitempty"`
	Success *bool       `json:"success,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// balanceResponse is the wire shape of a single-asset get_balance reply.
type balanceResponse struct {
	Success bool        `json:"success"`
	Balance json.Number `json:"balance"`
	Error   string      `json:"error,omitempty"`
}

// toDomain validates one asset leg and converts it into a typed result.
// Payload problems (missing asset, unparseable amount) degrade the leg to a
// failed result rather than failing the whole batch.
func (p assetPayload) toDomain(defaultChain string) (domain.AssetBalance, error) {
	if p.Asset == "" {
		return domain.AssetBalance{}, fmt.Errorf("walletrpc: balance leg without asset: %w", domain.ErrBadPayload)
	}

	chain := p.Chain
	if chain == "" {
		chain = defaultChain
	}

	out := domain.AssetBalance{
		Asset:  p.Asset,
		Chain:  chain,
		OK:     p.Success == nil || *p.Success,
		Reason: p.Error,
	}

	if !out.OK {
		out.Amount = decimal.Zero
		return out, nil
	}

	amount, err := decimal.NewFromString(p.Balance.String())
	if err != nil {
		out.OK = false
		out.Amount = decimal.Zero
		out.Reason = fmt.Sprintf("unparseable balance %q", p.Balance.String())
		return out, nil
	}
	out.Amount = amount
	return out, nil
}
