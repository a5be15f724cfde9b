// Package hyperliquid provides clients for the Hyperliquid venue: a REST
// client for account state lookups and a websocket client for the live
// l2Book market-data feed.
package hyperliquid

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

// Client is a REST client for the Hyperliquid /info endpoint.
type Client struct {
	infoURL string
	http    *http.Client
}

// NewClient creates a Client for the given /info endpoint URL. Per-call
// context deadlines control timeouts.
func NewClient(infoURL string) *Client {
	return &Client{
		infoURL: infoURL,
		http:    &http.Client{},
	}
}

// VenueBalance returns the wallet's funds at the venue: the spot USDC
// balance plus the perp account equity. Wallet detection uses the total to
// prefer wallets that already hold usable funds there.
func (c *Client) VenueBalance(ctx context.Context, address string) (domain.VenueBalanceResult, error) {
	var out domain.VenueBalanceResult

	var spot spotStateResponse
	if err := c.post(ctx, infoRequest{Type: "spotClearinghouseState", User: address}, &spot); err != nil {
		return out, fmt.Errorf("hyperliquid: spot state for %s: %w", address, err)
	}
	for _, b := range spot.Balances {
		if b.Coin != "USDC" {
			continue
		}
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			return out, fmt.Errorf("hyperliquid: spot USDC total %q: %w", b.Total, domain.ErrBadPayload)
		}
		out.Spot = total
	}

	var perp perpStateResponse
	if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: address}, &perp); err != nil {
		return out, fmt.Errorf("hyperliquid: perp state for %s: %w", address, err)
	}
	if v := perp.MarginSummary.AccountValue; v != "" {
		equity, err := decimal.NewFromString(v)
		if err != nil {
			return out, fmt.Errorf("hyperliquid: account value %q: %w", v, domain.ErrBadPayload)
		}
		out.Perp = equity
	}

	return out, nil
}

func (c *Client) post(ctx context.Context, req infoRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Type, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.Type, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.Type, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %w", req.Type, httpResp.StatusCode, domain.ErrUnavailable)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Type, domain.ErrBadPayload)
	}
	return nil
}

// Compile-time interface check.
var _ domain.VenueReader = (*Client)(nil)
