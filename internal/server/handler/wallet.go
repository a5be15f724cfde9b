package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trezury/walletsync/internal/domain"
)

// WalletDetector defines the wallet-detection surface the handler needs.
type WalletDetector interface {
	Detect(ctx context.Context, userID, externalAddress string) (domain.TradingWallet, error)
	Provision(ctx context.Context, wallet domain.GeneratedWallet) error
}

// WalletHandler serves active-wallet endpoints.
type WalletHandler struct {
	wallets WalletDetector
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler with the given service and logger.
func NewWalletHandler(wallets WalletDetector, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

// GetActiveWallet resolves which wallet a user trades with.
// GET /api/v1/wallets/{userID}/active?external=0x...
func (h *WalletHandler) GetActiveWallet(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	external := r.URL.Query().Get("external")

	wallet, err := h.wallets.Detect(r.Context(), userID, external)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNoAddress) {
			writeError(w, http.StatusBadRequest, "invalid external address")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: detect wallet failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to detect wallet")
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

// provisionRequest is the JSON body for wallet provisioning.
type provisionRequest struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

// ProvisionWallet records a generated wallet for a user.
// POST /api/v1/wallets/{userID}
func (h *WalletHandler) ProvisionWallet(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	var req provisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wallet := domain.GeneratedWallet{
		UserID:  userID,
		Address: req.Address,
		Chain:   req.Chain,
	}
	if err := h.wallets.Provision(r.Context(), wallet); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNoAddress) {
			writeError(w, http.StatusBadRequest, "invalid wallet address")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: provision wallet failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to provision wallet")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}
