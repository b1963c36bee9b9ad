package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/engine"
)

// MarketRegistry defines the engine methods the market handler requires.
type MarketRegistry interface {
	CreateMarket(ctx context.Context, p engine.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context) []domain.Market
	CancelMarket(ctx context.Context, caller common.Address, id uint64) error
	PruneMarket(ctx context.Context, caller common.Address, id uint64) error
	GetResolutionMetrics(ctx context.Context, marketID uint64, outcome int) (domain.ResolutionMetrics, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	registry MarketRegistry
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(registry MarketRegistry, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		registry: registry,
		logger:   logHandler(logger, "market"),
	}
}

type oracleConfigRequest struct {
	Oracle              string   `json:"oracle"`
	FeedID              string   `json:"feed_id"`
	MinResponses        int      `json:"min_responses"`
	MaxStalenessSeconds int64    `json:"max_staleness_seconds"`
	MaxConfidenceBps    int64    `json:"max_confidence_bps"`
	Thresholds          []string `json:"thresholds"`
}

type createMarketRequest struct {
	Creator            string               `json:"creator"`
	Description        string               `json:"description"`
	Outcomes           []string             `json:"outcomes"`
	BettingDeadline    int64                `json:"betting_deadline"`
	ResolutionDeadline int64                `json:"resolution_deadline"`
	Tier               string               `json:"tier"`
	SeedLiquidity      string               `json:"seed_liquidity,omitempty"`
	Oracle             *oracleConfigRequest `json:"oracle,omitempty"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creator, ok := parseAddress(req.Creator)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid creator address")
		return
	}

	params := engine.CreateMarketParams{
		Creator:            creator,
		Description:        req.Description,
		Outcomes:           req.Outcomes,
		BettingDeadline:    time.Unix(req.BettingDeadline, 0).UTC(),
		ResolutionDeadline: time.Unix(req.ResolutionDeadline, 0).UTC(),
		Tier:               domain.Tier(req.Tier),
	}

	if req.SeedLiquidity != "" {
		seed, ok := parseAmount(req.SeedLiquidity)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid seed_liquidity")
			return
		}
		params.SeedLiquidity = seed
	}

	if req.Oracle != nil {
		cfg, err := req.Oracle.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Oracle = cfg
	}

	market, err := h.registry.CreateMarket(r.Context(), params)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

func (req *oracleConfigRequest) toDomain() (*domain.OracleConfig, error) {
	cfg := &domain.OracleConfig{
		Oracle:              common.HexToAddress(req.Oracle),
		FeedID:              req.FeedID,
		MinResponses:        req.MinResponses,
		MaxStalenessSeconds: req.MaxStalenessSeconds,
		MaxConfidenceBps:    req.MaxConfidenceBps,
	}
	for _, s := range req.Thresholds {
		t, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		cfg.Thresholds = append(cfg.Thresholds, t)
	}
	return cfg, nil
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets returns all markets.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.registry.ListMarkets(r.Context())
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   len(markets),
	})
}

// GetMarket returns a single market by id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.registry.GetMarket(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

type adminActionRequest struct {
	Caller string `json:"caller"`
}

// CancelMarket voids a market and opens refunds.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.registry.CancelMarket(r.Context(), caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// PruneMarket archives a long-resolved market and deletes its bulk storage.
// DELETE /api/markets/{id}
func (h *MarketHandler) PruneMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.registry.PruneMarket(r.Context(), caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pruned"})
}

// GetMetrics reports the payout-mode decision inputs for one outcome.
// GET /api/markets/{id}/metrics/{outcome}
func (h *MarketHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	outcome, ok := pathID(r, "outcome")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid outcome")
		return
	}

	metrics, err := h.registry.GetResolutionMetrics(r.Context(), id, int(outcome))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
