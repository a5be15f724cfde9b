// Package feed owns the live orderbook subscription for the service: one
// websocket subscription per watched market, throttled forwarding of the
// most recent snapshot, and retention of the last non-empty book so brief
// upstream gaps never surface as an empty book.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/guard"
)

// State is the lifecycle state of the market subscription.
type State string

const (
	StateUnsubscribed State = "unsubscribed"
	StateSubscribing  State = "subscribing"
	StateStreaming    State = "streaming"
)

// Sink receives every forwarded snapshot. Sinks are called outside the
// subscriber's lock and must not block for long.
type Sink func(domain.BookSnapshot)

// Subscriber drives a domain.MarketFeed for a single watched market at a
// time. Raw pushes arrive at unbounded frequency; the subscriber forwards at
// most one snapshot per throttle window, always the most recent sample.
//
// Market switches are sequenced by a guard.Controller: the previous
// subscription is torn down before its successor is established, and a late
// push from a torn-down subscription can no longer commit state.
type Subscriber struct {
	feed   domain.MarketFeed
	window time.Duration
	logger *slog.Logger

	ctrl guard.Controller

	mu          sync.Mutex
	market      string
	state       State
	loading     bool
	ticket      *guard.Ticket
	lastGood    *domain.BookSnapshot
	current     *domain.BookSnapshot
	lastForward time.Time
	pending     *domain.BookSnapshot
	timer       *time.Timer

	sinkMu sync.RWMutex
	sinks  []Sink
}

// NewSubscriber creates a Subscriber over the given feed. The feed's book
// handler is registered here; Watch only manages which market is streamed.
func NewSubscriber(feed domain.MarketFeed, window time.Duration, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		feed:   feed,
		window: window,
		state:  StateUnsubscribed,
		logger: logger.With(slog.String("component", "book_subscriber")),
	}
	feed.OnBook(s.handlePush)
	return s
}

// OnForward registers a sink called for every forwarded snapshot.
func (s *Subscriber) OnForward(sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Watch switches the streamed market. The previous subscription is torn
// down first; its in-flight work is cancelled and any late pushes from it
// are discarded. Watching the currently streamed market is a no-op.
func (s *Subscriber) Watch(ctx context.Context, market string) error {
	if market == "" {
		return fmt.Errorf("feed: watch: %w", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.market == market && s.state != StateUnsubscribed {
		s.mu.Unlock()
		return nil
	}

	prev := s.market
	prevActive := s.state != StateUnsubscribed

	wctx, ticket := s.ctrl.Acquire(ctx)
	s.ticket = ticket
	s.market = market
	s.state = StateSubscribing
	s.loading = true
	s.lastGood = nil
	s.current = nil
	s.pending = nil
	s.lastForward = time.Time{}
	s.stopTimerLocked()
	s.mu.Unlock()

	if prevActive && prev != "" {
		if err := s.feed.Unsubscribe(wctx, prev); err != nil {
			s.logger.Warn("unsubscribe previous market failed",
				slog.String("market", prev),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.feed.Subscribe(wctx, market); err != nil {
		s.mu.Lock()
		if ticket.Latest() {
			s.state = StateUnsubscribed
			s.loading = false
		}
		s.mu.Unlock()
		if guard.IsCancel(err) {
			return domain.ErrSuperseded
		}
		return fmt.Errorf("feed: subscribe %s: %w", market, err)
	}

	s.mu.Lock()
	if ticket.Latest() {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	s.logger.Info("watching market", slog.String("market", market))
	return nil
}

// Stop tears down the current subscription and cancels pending throttle
// timers. Safe to call when nothing is being watched.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	market := s.market
	active := s.state != StateUnsubscribed
	s.market = ""
	s.state = StateUnsubscribed
	s.loading = false
	s.ticket = nil
	s.pending = nil
	s.stopTimerLocked()
	s.mu.Unlock()

	s.ctrl.Close()

	if active && market != "" {
		if err := s.feed.Unsubscribe(ctx, market); err != nil {
			return fmt.Errorf("feed: stop %s: %w", market, err)
		}
	}
	return nil
}

// Current returns the last forwarded snapshot, if any.
func (s *Subscriber) Current() (domain.BookSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.BookSnapshot{}, false
	}
	return *s.current, true
}

// Market returns the currently watched market, or "".
func (s *Subscriber) Market() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market
}

// State returns the subscription lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading reports whether the first snapshot since the last Watch is still
// outstanding. It clears on the first forwarded update, empty or not.
func (s *Subscriber) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// handlePush is the feed callback. It runs on the websocket read goroutine,
// so it only takes the lock briefly and never blocks on sinks.
func (s *Subscriber) handlePush(snap domain.BookSnapshot) {
	s.mu.Lock()

	ticket := s.ticket
	if ticket == nil || !ticket.Latest() || snap.Market != s.market {
		// Late push from a torn-down subscription, or a market we no
		// longer watch.
		s.mu.Unlock()
		return
	}

	// Anti-flicker: an empty book after a non-empty one is a transient
	// upstream gap, not a real state. A confirmed empty (no prior snapshot)
	// is forwarded so the loading flag still clears.
	if snap.Empty() && s.lastGood != nil {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	if s.timer == nil && now.Sub(s.lastForward) >= s.window {
		forwarded := s.forwardLocked(snap, now)
		s.mu.Unlock()
		s.notify(forwarded)
		return
	}

	// Inside the throttle window: keep only the most recent sample and make
	// sure a trailing flush is scheduled.
	s.pending = &snap
	if s.timer == nil {
		delay := s.window - now.Sub(s.lastForward)
		if delay <= 0 {
			delay = s.window
		}
		s.timer = time.AfterFunc(delay, func() { s.flush(ticket) })
	}
	s.mu.Unlock()
}

// flush forwards the pending sample at the end of a throttle window.
func (s *Subscriber) flush(ticket *guard.Ticket) {
	s.mu.Lock()
	s.timer = nil
	if !ticket.Latest() || s.pending == nil {
		s.mu.Unlock()
		return
	}
	snap := *s.pending
	s.pending = nil

	if snap.Empty() && s.lastGood != nil {
		s.mu.Unlock()
		return
	}

	forwarded := s.forwardLocked(snap, time.Now())
	s.mu.Unlock()
	s.notify(forwarded)
}

// forwardLocked commits a snapshot as the current state. Caller holds s.mu.
func (s *Subscriber) forwardLocked(snap domain.BookSnapshot, now time.Time) domain.BookSnapshot {
	s.lastForward = now
	s.current = &snap
	s.loading = false
	if !snap.Empty() {
		s.lastGood = &snap
	}
	return snap
}

// notify fans a forwarded snapshot out to the registered sinks.
func (s *Subscriber) notify(snap domain.BookSnapshot) {
	s.sinkMu.RLock()
	sinks := s.sinks
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink(snap)
	}
}

// stopTimerLocked cancels a scheduled trailing flush. Caller holds s.mu.
func (s *Subscriber) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
