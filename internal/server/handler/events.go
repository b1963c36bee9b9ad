package handler

import (
	"log/slog"
	"net/http"

	"github.com/outcomelabs/settle/internal/domain"
)

// EventsHandler serves the per-market event history used by indexers that
// prefer polling over the websocket feed.
type EventsHandler struct {
	events domain.EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events domain.EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logHandler(logger, "events"),
	}
}

// ListByMarket returns a market's events oldest first.
// GET /api/markets/{id}/events?limit=50&offset=0
func (h *EventsHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history requires the postgres store")
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	events, err := h.events.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}
