package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/engine"
	"github.com/outcomelabs/settle/internal/governance"
)

const (
	adminHex = "0x000000000000000000000000000000000000ad01"
	aliceHex = "0x00000000000000000000000000000000000a11ce"
	bobHex   = "0x0000000000000000000000000000000000000b0b"
)

// testAPI wires the handlers against a real engine on a ServeMux with the
// production route patterns.
type testAPI struct {
	mux *http.ServeMux
	eng *engine.Engine
	gov *governance.Static
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gov := governance.NewStatic([]common.Address{common.HexToAddress(adminHex)})
	eng := engine.New(engine.Config{}, engine.Deps{Governance: gov}, logger)

	markets := NewMarketHandler(eng, logger)
	trading := NewTradingHandler(eng, logger)
	accounts := NewAccountHandler(eng.Ledger(), eng, logger)
	admin := NewAdminHandler(gov, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", markets.CancelMarket)
	mux.HandleFunc("GET /api/markets/{id}/metrics/{outcome}", markets.GetMetrics)
	mux.HandleFunc("POST /api/markets/{id}/bets", trading.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/buy", trading.BuyShares)
	mux.HandleFunc("GET /api/markets/{id}/quote", trading.Quote)
	mux.HandleFunc("POST /api/markets/{id}/claim", accounts.Claim)
	mux.HandleFunc("GET /api/accounts/{address}", accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{address}/deposit", accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{address}/withdraw", accounts.Withdraw)
	mux.HandleFunc("GET /api/admin/freeze", admin.GetFreeze)
	mux.HandleFunc("PUT /api/admin/freeze", admin.SetFreeze)

	return &testAPI{mux: mux, eng: eng, gov: gov}
}

func (api *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createRequestBody(now time.Time) map[string]any {
	return map[string]any{
		"creator":             aliceHex,
		"description":         "test market",
		"outcomes":            []string{"no", "yes"},
		"betting_deadline":    now.Add(time.Hour).Unix(),
		"resolution_deadline": now.Add(2 * time.Hour).Unix(),
	}
}

func TestMarketEndpoints(t *testing.T) {
	now := time.Now()

	t.Run("create and fetch", func(t *testing.T) {
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))

		rec := api.do(t, http.MethodPost, "/api/markets", createRequestBody(now))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decodeBody(t, rec)
		assert.Equal(t, float64(1), created["id"])
		assert.Equal(t, "active", created["status"])

		rec = api.do(t, http.MethodGet, "/api/markets/1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "active", decodeBody(t, rec)["status"])

		rec = api.do(t, http.MethodGet, "/api/markets", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["total"])
	})

	t.Run("engine errors carry the stable code", func(t *testing.T) {
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))

		body := createRequestBody(now)
		body["outcomes"] = []string{"only"}
		rec := api.do(t, http.MethodPost, "/api/markets", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, float64(domain.CodeOutcomeCountLow), decodeBody(t, rec)["code"])
	})

	t.Run("invalid creator address", func(t *testing.T) {
		api := newTestAPI(t)
		body := createRequestBody(now)
		body["creator"] = "not-an-address"
		rec := api.do(t, http.MethodPost, "/api/markets", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown market is 404", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/api/markets/99", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, float64(domain.CodeMarketNotFound), decodeBody(t, rec)["code"])
	})

	t.Run("cancel requires an admin caller", func(t *testing.T) {
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))
		rec := api.do(t, http.MethodPost, "/api/markets", createRequestBody(now))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/markets/1/cancel", map[string]string{"caller": bobHex})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/markets/1/cancel", map[string]string{"caller": adminHex})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))
		rec := api.do(t, http.MethodPost, "/api/markets", createRequestBody(now))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = api.do(t, http.MethodGet, "/api/markets/1/metrics/0", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		metrics := decodeBody(t, rec)
		assert.Equal(t, "push", metrics["payout_mode"])
		assert.Equal(t, float64(0), metrics["winner_count"])
	})
}

func TestTradingEndpoints(t *testing.T) {
	now := time.Now()

	setup := func(t *testing.T, seed string) *testAPI {
		t.Helper()
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(5000))
		api.eng.Ledger().Credit(common.HexToAddress(bobHex), decimal.NewFromInt(500))

		body := createRequestBody(now)
		if seed != "" {
			body["seed_liquidity"] = seed
		}
		rec := api.do(t, http.MethodPost, "/api/markets", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return api
	}

	t.Run("place bet", func(t *testing.T) {
		api := setup(t, "")
		rec := api.do(t, http.MethodPost, "/api/markets/1/bets", map[string]any{
			"account": bobHex, "outcome": 1, "amount": "50",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("overdraft maps to 422", func(t *testing.T) {
		api := setup(t, "")
		rec := api.do(t, http.MethodPost, "/api/markets/1/bets", map[string]any{
			"account": bobHex, "outcome": 1, "amount": "9999",
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, float64(domain.CodeInsufficientBalance), decodeBody(t, rec)["code"])
	})

	t.Run("buy and quote against the pool", func(t *testing.T) {
		api := setup(t, "1000")

		rec := api.do(t, http.MethodGet, "/api/markets/1/quote?side=buy&outcome=0&amount=25", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		quote := decodeBody(t, rec)

		rec = api.do(t, http.MethodPost, "/api/markets/1/buy", map[string]any{
			"account": bobHex, "outcome": 0, "amount": "25",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, quote["delta"], decodeBody(t, rec)["delta"])
	})

	t.Run("quote validates the side", func(t *testing.T) {
		api := setup(t, "1000")
		rec := api.do(t, http.MethodGet, "/api/markets/1/quote?side=sideways&outcome=0&amount=25", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("trading without a pool is 404", func(t *testing.T) {
		api := setup(t, "")
		rec := api.do(t, http.MethodPost, "/api/markets/1/buy", map[string]any{
			"account": bobHex, "outcome": 0, "amount": "25",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, float64(domain.CodeNoPool), decodeBody(t, rec)["code"])
	})
}

func TestAccountEndpoints(t *testing.T) {
	t.Run("deposit then withdraw", func(t *testing.T) {
		api := newTestAPI(t)

		rec := api.do(t, http.MethodPost, "/api/accounts/"+bobHex+"/deposit", map[string]string{"amount": "300"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/accounts/"+bobHex+"/withdraw", map[string]string{"amount": "100"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodGet, "/api/accounts/"+bobHex, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "200", decodeBody(t, rec)["balance"])
	})

	t.Run("withdraw overdraft", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/accounts/"+bobHex+"/withdraw", map[string]string{"amount": "100"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("claim before resolution conflicts", func(t *testing.T) {
		api := newTestAPI(t)
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))
		rec := api.do(t, http.MethodPost, "/api/markets", createRequestBody(time.Now()))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/markets/1/claim", map[string]string{"claimant": bobHex})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, float64(domain.CodeNotResolved), decodeBody(t, rec)["code"])
	})

	t.Run("bad amounts rejected before the ledger", func(t *testing.T) {
		api := newTestAPI(t)
		for _, amount := range []string{"", "-5", "zero"} {
			rec := api.do(t, http.MethodPost, "/api/accounts/"+bobHex+"/deposit", map[string]string{"amount": amount})
			assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %q", amount)
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	t.Run("freeze lifecycle", func(t *testing.T) {
		api := newTestAPI(t)

		rec := api.do(t, http.MethodGet, "/api/admin/freeze", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "closed", decodeBody(t, rec)["freeze"])

		rec = api.do(t, http.MethodPut, "/api/admin/freeze", map[string]string{
			"caller": adminHex, "level": "full_freeze",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		// The engine now refuses mutations with 503.
		api.eng.Ledger().Credit(common.HexToAddress(aliceHex), decimal.NewFromInt(1000))
		rec = api.do(t, http.MethodPost, "/api/markets", createRequestBody(time.Now()))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("non-admin cannot set the breaker", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPut, "/api/admin/freeze", map[string]string{
			"caller": bobHex, "level": "full_freeze",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown level rejected", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPut, "/api/admin/freeze", map[string]string{
			"caller": adminHex, "level": "half_open",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEventsWithoutStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewEventsHandler(nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}/events", h.ListByMarket)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/1/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "event history needs the durable store")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("all dependencies healthy", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"postgres": pingerFunc(func(ctx context.Context) error { return nil }),
		}, logger)

		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	})

	t.Run("failing dependency degrades but stays 200", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"redis": pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		}, logger)

		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code domain.Code
		want int
	}{
		{domain.CodeMarketNotFound, http.StatusNotFound},
		{domain.CodeNoPool, http.StatusNotFound},
		{domain.CodeNotAdmin, http.StatusForbidden},
		{domain.CodeFrozen, http.StatusServiceUnavailable},
		{domain.CodeAlreadyClaimed, http.StatusConflict},
		{domain.CodeInsufficientBalance, http.StatusUnprocessableEntity},
		{domain.CodeInvalidDeadline, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code %d", tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, httpStatus(tc.code))
		})
	}
}
