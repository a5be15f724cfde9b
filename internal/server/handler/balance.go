package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/trezury/walletsync/internal/domain"
	"github.com/trezury/walletsync/internal/service"
)

// BalanceReader defines the methods the balance handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type BalanceReader interface {
	Fetch(ctx context.Context, address string, opts service.FetchOptions) ([]domain.Balance, error)
	Loading(address string) bool
	LastError(address string) string
	Invalidate(ctx context.Context, address string) error
}

// BalanceHandler serves wallet balance endpoints.
type BalanceHandler struct {
	balances BalanceReader
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler with the given service and logger.
func NewBalanceHandler(balances BalanceReader, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{
		balances: balances,
		logger:   logger,
	}
}

// balancesResponse is the JSON envelope for the balances endpoint.
type balancesResponse struct {
	Address   string           `json:"address"`
	Balances  []domain.Balance `json:"balances"`
	Loading   bool             `json:"loading"`
	Error     string           `json:"error,omitempty"`
	FetchedAt string           `json:"fetched_at"`
}

// GetBalances returns the balances for an address.
// GET /api/v1/balances/{address}?refresh=true&silent=true
//
// refresh bypasses the fresh-cache short circuit; silent suppresses the
// loading flag, which background pollers rely on.
func (h *BalanceHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	opts := service.FetchOptions{
		Force:  queryBool(r, "refresh", false),
		Silent: queryBool(r, "silent", false),
	}

	balances, err := h.balances.Fetch(r.Context(), address, opts)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoAddress), errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid address")
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
		default:
			h.logger.ErrorContext(r.Context(), "handler: fetch balances failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to fetch balances")
		}
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{
		Address:   address,
		Balances:  balances,
		Loading:   h.balances.Loading(address),
		Error:     h.balances.LastError(address),
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// InvalidateBalances drops cached balances for an address so the next read
// goes upstream. Called after deposits and withdrawals.
// DELETE /api/v1/balances/{address}/cache
func (h *BalanceHandler) InvalidateBalances(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	if err := h.balances.Invalidate(r.Context(), address); err != nil {
		if errors.Is(err, domain.ErrNoAddress) || errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: invalidate balances failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to invalidate balances")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
