package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/amm"
)

// TradingService defines the engine methods the trading handler requires.
type TradingService interface {
	PlaceBet(ctx context.Context, bettor common.Address, marketID uint64, outcome int, amount decimal.Decimal) error
	BuyShares(ctx context.Context, buyer common.Address, marketID uint64, outcome int, amountIn decimal.Decimal) (amm.Trade, error)
	SellShares(ctx context.Context, seller common.Address, marketID uint64, outcome int, sharesIn decimal.Decimal) (amm.Trade, error)
	QuoteBuy(marketID uint64, outcome int, amountIn decimal.Decimal) (amm.Trade, error)
	QuoteSell(marketID uint64, outcome int, sharesIn decimal.Decimal) (amm.Trade, error)
}

// TradingHandler serves the betting and AMM trading endpoints.
type TradingHandler struct {
	trading TradingService
	logger  *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(trading TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		trading: trading,
		logger:  logHandler(logger, "trading"),
	}
}

type tradeRequest struct {
	Account string `json:"account"`
	Outcome int    `json:"outcome"`
	Amount  string `json:"amount"`
}

// decode validates the shared trade request shape.
func (req *tradeRequest) decode(r *http.Request) (common.Address, decimal.Decimal, string) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return common.Address{}, decimal.Decimal{}, "invalid request body"
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		return common.Address{}, decimal.Decimal{}, "invalid account address"
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		return common.Address{}, decimal.Decimal{}, "invalid amount"
	}
	return account, amount, ""
}

// PlaceBet stakes collateral on a fixed outcome.
// POST /api/markets/{id}/bets
func (h *TradingHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req tradeRequest
	account, amount, msg := req.decode(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.trading.PlaceBet(r.Context(), account, id, req.Outcome, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id": id,
		"outcome":   req.Outcome,
		"amount":    amount,
	})
}

// BuyShares swaps collateral for outcome shares through the pool.
// POST /api/markets/{id}/buy
func (h *TradingHandler) BuyShares(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req tradeRequest
	account, amount, msg := req.decode(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	trade, err := h.trading.BuyShares(r.Context(), account, id, req.Outcome, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// SellShares swaps outcome shares back to collateral through the pool.
// POST /api/markets/{id}/sell
func (h *TradingHandler) SellShares(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req tradeRequest
	account, amount, msg := req.decode(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	trade, err := h.trading.SellShares(r.Context(), account, id, req.Outcome, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Quote prices a hypothetical buy or sell without mutating the pool.
// GET /api/markets/{id}/quote?side=buy&outcome=0&amount=25
func (h *TradingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	q := r.URL.Query()
	outcome, err := parseOutcomeParam(q.Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid outcome")
		return
	}
	amount, ok := parseAmount(q.Get("amount"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var trade amm.Trade
	switch q.Get("side") {
	case "buy":
		trade, err = h.trading.QuoteBuy(id, outcome, amount)
	case "sell":
		trade, err = h.trading.QuoteSell(id, outcome, amount)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
