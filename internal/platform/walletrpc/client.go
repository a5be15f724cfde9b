// Package walletrpc is the client for the managed wallet-operations RPC, the
// edge function that resolves multi-chain balances for a wallet address. The
// RPC exposes a batch operation covering every tracked asset and a per-asset
// fallback used when a single leg of the batch fails.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/trezury/walletsync/internal/domain"
)

// Config holds client parameters.
type Config struct {
	BaseURL string
	APIKey  string

	// DefaultChain is stamped on balance legs whose payload omits a chain.
	DefaultChain string
}

// Client calls the wallet-operations RPC over HTTP. Timeouts are the
// caller's responsibility via context deadlines.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. The http.Client carries no timeout of its own so
// per-call context deadlines stay authoritative.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// GetAllBalances issues the batch get_all_balances operation for an address
// and returns one typed result per asset leg. A leg the upstream marks failed
// comes back with OK=false and a zero amount; only a transport failure or a
// rejected batch returns an error.
func (c *Client) GetAllBalances(ctx context.Context, address string) ([]domain.AssetBalance, error) {
	var resp allBalancesResponse
	if err := c.call(ctx, rpcRequest{Operation: "get_all_balances", Address: address}, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "batch rejected"
		}
		return nil, fmt.Errorf("walletrpc: get_all_balances for %s: %s: %w", address, msg, domain.ErrUnavailable)
	}

	out := make([]domain.AssetBalance, 0, len(resp.Balances))
	for _, leg := range resp.Balances {
		ab, err := leg.toDomain(c.cfg.DefaultChain)
		if err != nil {
			// Drop legs with no asset name; there is nothing to report them under.
			continue
		}
		out = append(out, ab)
	}
	return out, nil
}

// GetBalance issues the single-asset fallback operation.
func (c *Client) GetBalance(ctx context.Context, address, asset string) (domain.AssetBalance, error) {
	var resp balanceResponse
	if err := c.call(ctx, rpcRequest{Operation: "get_balance", Address: address, Asset: asset}, &resp); err != nil {
		return domain.AssetBalance{}, err
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "lookup failed"
		}
		return domain.AssetBalance{}, fmt.Errorf("walletrpc: get_balance %s for %s: %s: %w", asset, address, msg, domain.ErrUnavailable)
	}

	amount, err := decimal.NewFromString(resp.Balance.String())
	if err != nil {
		return domain.AssetBalance{}, fmt.Errorf("walletrpc: get_balance %s for %s: balance %q: %w", asset, address, resp.Balance.String(), domain.ErrBadPayload)
	}

	return domain.AssetBalance{
		Asset:  asset,
		Amount: amount,
		Chain:  c.cfg.DefaultChain,
		OK:     true,
	}, nil
}

// call posts a JSON request to the RPC endpoint and decodes the reply into out.
func (c *Client) call(ctx context.Context, req rpcRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("walletrpc: marshal %s request: %w", req.Operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("walletrpc: build %s request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("apikey", c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("walletrpc: %s: %w", req.Operation, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("walletrpc: read %s response: %w", req.Operation, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("walletrpc: %s: status %d: %w", req.Operation, httpResp.StatusCode, domain.ErrUnavailable)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("walletrpc: decode %s response: %w", req.Operation, domain.ErrBadPayload)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceSource = (*Client)(nil)
