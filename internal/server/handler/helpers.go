// Package handler contains the HTTP handlers for the settlement API. Each
// handler declares the narrow engine interface it requires so tests can
// substitute fakes.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps a domain error onto an HTTP status and includes the
// stable numeric code in the body so client integrations can branch on it.
func writeEngineError(w http.ResponseWriter, err error) {
	code, ok := domain.ErrCode(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, httpStatus(code), map[string]any{
		"error": err.Error(),
		"code":  int(code),
	})
}

// httpStatus maps stable engine error codes onto HTTP statuses.
func httpStatus(code domain.Code) int {
	switch code {
	case domain.CodeMarketNotFound, domain.CodeNoPool:
		return http.StatusNotFound
	case domain.CodeNotAdmin:
		return http.StatusForbidden
	case domain.CodeFrozen:
		return http.StatusServiceUnavailable
	case domain.CodeWrongStatus, domain.CodeMarketClosed, domain.CodeVotingClosed,
		domain.CodeAlreadyVoted, domain.CodeAlreadyClaimed, domain.CodeNothingToClaim,
		domain.CodeNoVotes, domain.CodeGracePeriod, domain.CodeNotResolved,
		domain.CodePoolExists:
		return http.StatusConflict
	case domain.CodeInsufficientDeposit, domain.CodeInsufficientBalance,
		domain.CodeInsufficientShares:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric market id path parameter using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathID(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	return id, err == nil
}

// parseAddress validates a hex account address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseOutcomeParam parses a non-negative outcome index from a query
// parameter.
func parseOutcomeParam(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// parseAmount parses a positive decimal amount from its string form.
func parseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
