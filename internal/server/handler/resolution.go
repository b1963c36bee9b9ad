package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// ResolutionService defines the engine methods the resolution handler
// requires.
type ResolutionService interface {
	ResolveWithOracle(ctx context.Context, marketID uint64) (domain.MarketStatus, error)
	SetOracleResult(ctx context.Context, caller common.Address, marketID uint64, outcome int) error
	CastVote(ctx context.Context, voter common.Address, marketID uint64, outcome int, weight decimal.Decimal) error
	FinalizeDispute(ctx context.Context, marketID uint64) error
}

// ResolutionHandler serves oracle resolution and dispute endpoints.
type ResolutionHandler struct {
	resolution ResolutionService
	logger     *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolution ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolution: resolution,
		logger:     logHandler(logger, "resolution"),
	}
}

// Resolve attempts oracle resolution. A market that fails oracle validation
// transitions to disputed; the response status field tells callers which
// path was taken.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	status, err := h.resolution.ResolveWithOracle(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"status":    status,
	})
}

type oracleResultRequest struct {
	Caller  string `json:"caller"`
	Outcome int    `json:"outcome"`
}

// SetResult records a privileged manual resolution for a disputed market.
// POST /api/markets/{id}/result
func (h *ResolutionHandler) SetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req oracleResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.resolution.SetOracleResult(r.Context(), caller, id, req.Outcome); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type voteRequest struct {
	Voter   string `json:"voter"`
	Outcome int    `json:"outcome"`
	Weight  string `json:"weight"`
}

// CastVote records one weighted vote in an open dispute.
// POST /api/markets/{id}/votes
func (h *ResolutionHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	voter, ok := parseAddress(req.Voter)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid voter address")
		return
	}
	weight, ok := parseAmount(req.Weight)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid weight")
		return
	}

	if err := h.resolution.CastVote(r.Context(), voter, id, req.Outcome, weight); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id": id,
		"outcome":   req.Outcome,
	})
}

// FinalizeDispute tallies votes after the voting window closes.
// POST /api/markets/{id}/finalize
func (h *ResolutionHandler) FinalizeDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if err := h.resolution.FinalizeDispute(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
