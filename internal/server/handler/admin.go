package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelabs/settle/internal/domain"
)

// Breaker is the runtime-settable circuit breaker the admin handler
// requires.
type Breaker interface {
	Freeze(ctx context.Context) domain.FreezeLevel
	SetFreeze(level domain.FreezeLevel)
	IsAdmin(ctx context.Context, caller common.Address) bool
}

// AdminHandler serves the circuit-breaker endpoints.
type AdminHandler struct {
	breaker Breaker
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(breaker Breaker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		breaker: breaker,
		logger:  logHandler(logger, "admin"),
	}
}

// GetFreeze reports the current breaker level.
// GET /api/admin/freeze
func (h *AdminHandler) GetFreeze(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"freeze": h.breaker.Freeze(r.Context()).String(),
	})
}

type freezeRequest struct {
	Caller string `json:"caller"`
	Level  string `json:"level"`
}

// SetFreeze updates the breaker level. Admin-only.
// PUT /api/admin/freeze
func (h *AdminHandler) SetFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	if !h.breaker.IsAdmin(r.Context(), caller) {
		writeEngineError(w, domain.ErrNotAdmin)
		return
	}

	var level domain.FreezeLevel
	switch req.Level {
	case "closed":
		level = domain.FreezeNone
	case "partial_freeze":
		level = domain.FreezePartial
	case "full_freeze":
		level = domain.FreezeFull
	default:
		writeError(w, http.StatusBadRequest, "level must be closed, partial_freeze, or full_freeze")
		return
	}

	h.breaker.SetFreeze(level)
	h.logger.InfoContext(r.Context(), "breaker level changed",
		slog.String("level", level.String()),
		slog.String("caller", caller.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"freeze": level.String()})
}
