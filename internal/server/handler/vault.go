package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/domain"
)

// AccountReader serves vault and wallet balances.
type AccountReader interface {
	Vault(ctx context.Context) (domain.VaultSummary, error)
	Balance(ctx context.Context, addr common.Address) (uint64, error)
}

// AccountHandler serves the vault summary and wallet balances.
type AccountHandler struct {
	accounts AccountReader
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger.With(slog.String("handler", "accounts"))}
}

// GetVault returns the vault with its balance, or 404 before
// initialization.
// GET /api/vault
func (h *AccountHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	v, err := h.accounts.Vault(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type balanceResponse struct {
	Address common.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// GetBalance returns the ledger balance of an address. Unknown addresses
// hold zero.
// GET /api/wallets/{address}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	b, err := h.accounts.Balance(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr, Balance: b})
}
