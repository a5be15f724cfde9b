package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/feed"
)

// BookFeed defines the orderbook surface the handler needs.
type BookFeed interface {
	Watch(ctx context.Context, market string) error
	Current() (domain.BookSnapshot, bool)
	Market() string
	State() feed.State
	Loading() bool
}

// BookHandler serves orderbook endpoints.
type BookHandler struct {
	books  BookFeed
	cache  domain.BookCache // optional, for markets not currently watched
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookFeed, cache domain.BookCache, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:  books,
		cache:  cache,
		logger: logger,
	}
}

// bookResponse is the JSON envelope for the orderbook endpoint.
type bookResponse struct {
	Market  string              `json:"market"`
	State   string              `json:"state"`
	Loading bool                `json:"loading"`
	Book    *domain.BookSnapshot `json:"book,omitempty"`
}

// GetBook returns the current orderbook snapshot for a market. For the
// watched market this is the live throttled snapshot; for any other market
// it falls back to the shared cache.
// GET /api/v1/book/{market}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	market := strings.ToUpper(pathParam(r, "market"))
	if market == "" {
		writeError(w, http.StatusBadRequest, "missing market")
		return
	}

	if market == h.books.Market() {
		resp := bookResponse{
			Market:  market,
			State:   string(h.books.State()),
			Loading: h.books.Loading(),
		}
		if snap, ok := h.books.Current(); ok {
			resp.Book = &snap
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if h.cache != nil {
		snap, err := h.cache.GetSnapshot(r.Context(), market)
		if err == nil {
			writeJSON(w, http.StatusOK, bookResponse{
				Market: market,
				State:  string(feed.StateUnsubscribed),
				Book:   &snap,
			})
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "handler: book cache read failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
		}
	}

	writeError(w, http.StatusNotFound, "no snapshot for market")
}

// WatchBook switches the live subscription to a market.
// POST /api/v1/book/{market}/watch
func (h *BookHandler) WatchBook(w http.ResponseWriter, r *http.Request) {
	market := strings.ToUpper(pathParam(r, "market"))
	if market == "" {
		writeError(w, http.StatusBadRequest, "missing market")
		return
	}

	if err := h.books.Watch(r.Context(), market); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid market")
		case errors.Is(err, domain.ErrSuperseded):
			// A newer watch request replaced this one while it was
			// subscribing. That request owns the subscription now.
			writeJSON(w, http.StatusConflict, map[string]string{"status": "superseded"})
		default:
			h.logger.ErrorContext(r.Context(), "handler: watch market failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "failed to subscribe to market")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "watching",
		"market": market,
	})
}
