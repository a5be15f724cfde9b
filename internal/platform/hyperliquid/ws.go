package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezury/walletsync/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between inbound messages before the
	// connection is considered dead. The server pongs our JSON pings, so a
	// healthy connection always has inbound traffic.
	readWait = 60 * time.Second

	// pingPeriod sends JSON ping frames at this interval. Must be less than
	// readWait.
	pingPeriod = (readWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler is called for every l2Book snapshot received from the feed.
type BookHandler func(domain.BookSnapshot)

// WSClient is a websocket client for the Hyperliquid market-data feed. It
// manages the connection lifecycle, per-coin l2Book subscriptions, and
// dispatches snapshots to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Reconnect backoff bounds, overridable in tests.
	baseDelay time.Duration
	maxDelay  time.Duration

	// Subscribed coins, restored on reconnect.
	coins map[string]struct{}

	handlerMu    sync.RWMutex
	bookHandlers []BookHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a websocket client for the given feed URL, e.g.
// "wss://api.hyperliquid.xyz/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:     wsURL,
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
		coins:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops. Existing subscriptions are restored after a reconnect.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: connect: %w", domain.ErrFeedClosed)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop(conn)
	go w.pingLoop(conn)

	// Restore any previous subscriptions after reconnect.
	for coin := range w.coins {
		if err := w.sendCommand(wsCommand{
			Method:       "subscribe",
			Subscription: &subscription{Type: "l2Book", Coin: coin},
		}); err != nil {
			return fmt.Errorf("hyperliquid/ws: restore subscription %s: %w", coin, err)
		}
	}

	return nil
}

// Subscribe starts streaming l2Book snapshots for the given coin.
func (w *WSClient) Subscribe(ctx context.Context, coin string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: subscribe %s: %w", coin, domain.ErrFeedClosed)
	}
	if w.conn == nil {
		return fmt.Errorf("hyperliquid/ws: subscribe %s: %w", coin, domain.ErrWSDisconnect)
	}

	if err := w.sendCommand(wsCommand{
		Method:       "subscribe",
		Subscription: &subscription{Type: "l2Book", Coin: coin},
	}); err != nil {
		return fmt.Errorf("hyperliquid/ws: subscribe %s: %w", coin, err)
	}

	w.coins[coin] = struct{}{}
	return nil
}

// Unsubscribe stops streaming l2Book snapshots for the given coin.
func (w *WSClient) Unsubscribe(ctx context.Context, coin string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: unsubscribe %s: %w", coin, domain.ErrFeedClosed)
	}
	if w.conn == nil {
		return fmt.Errorf("hyperliquid/ws: unsubscribe %s: %w", coin, domain.ErrWSDisconnect)
	}

	if err := w.sendCommand(wsCommand{
		Method:       "unsubscribe",
		Subscription: &subscription{Type: "l2Book", Coin: coin},
	}); err != nil {
		return fmt.Errorf("hyperliquid/ws: unsubscribe %s: %w", coin, err)
	}

	delete(w.coins, coin)
	return nil
}

// OnBook registers a handler that is called for every l2Book snapshot.
func (w *WSClient) OnBook(handler func(domain.BookSnapshot)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// Close shuts down the websocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendCommand sends a JSON command frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from its own connection and dispatches
// l2Book snapshots to handlers. On disconnect it attempts to reconnect with
// exponential backoff. Each Connect starts a fresh readLoop; the defer must
// close only this generation's connection, never the replacement a reconnect
// may have installed.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop sends periodic JSON ping frames; the server answers on the pong
// channel, which keeps the read deadline fresh. The loop exits once its
// connection has been replaced by a reconnect.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.conn != conn {
				w.mu.Unlock()
				return
			}
			err := w.sendCommand(wsCommand{Method: "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes l2Book payloads to handlers.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope wsMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.Channel {
	case "l2Book":
		var book l2BookData
		if err := json.Unmarshal(envelope.Data, &book); err != nil {
			return
		}
		snap := bookToDomain(&book)

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(snap)
		}
	case "pong", "subscriptionResponse":
		// Keep-alive and acks need no handling.
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := w.baseDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

// Compile-time interface check.
var _ domain.MarketFeed = (*WSClient)(nil)
