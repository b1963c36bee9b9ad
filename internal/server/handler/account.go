package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LedgerService defines the balance operations the account handler
// requires. Deposits and withdrawals model collateral moving on and off
// the engine; on-chain transfer plumbing is out of scope here.
type LedgerService interface {
	Credit(holder common.Address, amount decimal.Decimal)
	Debit(holder common.Address, amount decimal.Decimal) error
	Balance(holder common.Address) decimal.Decimal
	Locked(holder common.Address) decimal.Decimal
}

// ClaimService defines the settlement methods the account handler requires.
type ClaimService interface {
	ClaimWinnings(ctx context.Context, claimant common.Address, marketID uint64) (decimal.Decimal, error)
}

// AccountHandler serves collateral balance and claim endpoints.
type AccountHandler struct {
	ledger LedgerService
	claims ClaimService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(ledger LedgerService, claims ClaimService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ledger: ledger,
		claims: claims,
		logger: logHandler(logger, "account"),
	}
}

// GetBalance returns an account's free and locked collateral.
// GET /api/accounts/{address}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": h.ledger.Balance(addr),
		"locked":  h.ledger.Locked(addr),
	})
}

type fundsRequest struct {
	Amount string `json:"amount"`
}

// Deposit credits collateral to an account.
// POST /api/accounts/{address}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	h.ledger.Credit(addr, amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": h.ledger.Balance(addr),
	})
}

// Withdraw debits free collateral from an account.
// POST /api/accounts/{address}/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.ledger.Debit(addr, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": h.ledger.Balance(addr),
	})
}

type claimRequest struct {
	Claimant string `json:"claimant"`
}

// Claim pays out a winner (or refunds a cancelled market participant).
// POST /api/markets/{id}/claim
func (h *AccountHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claimant, ok := parseAddress(req.Claimant)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claimant address")
		return
	}

	amount, err := h.claims.ClaimWinnings(r.Context(), claimant, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"amount":    amount,
	})
}
