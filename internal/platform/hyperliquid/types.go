package hyperliquid

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/trezury/walletsync/internal/domain"
)

// infoRequest is the request body for the /info endpoint.
type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// spotStateResponse is the reply to a spotClearinghouseState request.
type spotStateResponse struct {
	Balances []spotBalance `json:"balances"`
}

// spotBalance is one coin's spot balance. Amounts arrive as decimal strings.
type spotBalance struct {
	Coin  string `json:"coin"`
	Total string `json:"total"`
	Hold  string `json:"hold"`
}

// perpStateResponse is the subset of a clearinghouseState reply we consume.
type perpStateResponse struct {
	MarginSummary marginSummary `json:"marginSummary"`
}

type marginSummary struct {
	AccountValue string `json:"accountValue"`
}

// wsCommand is a subscribe/unsubscribe frame sent over the websocket.
type wsCommand struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// wsMessage is the outer envelope of every websocket push.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// l2BookData is an l2Book channel payload: levels[0] are bids, levels[1]
// are asks, both best-first.
type l2BookData struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]wsLevel `json:"levels"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// bookToDomain converts an l2Book payload into a domain snapshot. Levels
// with unparseable prices are skipped rather than failing the snapshot.
func bookToDomain(d *l2BookData) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		Market:    d.Coin,
		Timestamp: time.UnixMilli(d.Time),
	}
	if d.Time == 0 {
		snap.Timestamp = time.Now()
	}

	if len(d.Levels) > 0 {
		snap.Bids = levelsToDomain(d.Levels[0])
	}
	if len(d.Levels) > 1 {
		snap.Asks = levelsToDomain(d.Levels[1])
	}
	return snap
}

func levelsToDomain(levels []wsLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(levels))
	for _, lv := range levels {
		px, err := strconv.ParseFloat(lv.Px, 64)
		if err != nil {
			continue
		}
		sz, err := strconv.ParseFloat(lv.Sz, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.BookLevel{Price: px, Size: sz})
	}
	return out
}
