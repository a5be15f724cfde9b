package domain

import "time"

// BookLevel is a single price+size entry in an orderbook.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a full snapshot of bids and asks for a market as delivered
// by the venue feed. Snapshots are replaced wholesale on each accepted update;
// nothing outside the feed mutates them.
type BookSnapshot struct {
	Market    string      `json:"market"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// Empty reports whether both sides of the book are empty. An empty snapshot
// arriving after a non-empty one is treated as a transient upstream gap and
// dropped by the subscriber.
func (s BookSnapshot) Empty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// BestBid returns the highest bid, or 0 when the bid side is empty.
func (s BookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask, or 0 when the ask side is empty.
func (s BookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// MidPrice returns the bid/ask midpoint, or 0 when either side is empty.
func (s BookSnapshot) MidPrice() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}
