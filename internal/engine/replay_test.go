package engine

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/governance"
)

// In-memory stores backing the restart tests. Each implements just enough
// of its domain interface for replay round-trips.

type memMarketStore struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[uint64]domain.Market)}
}

func (s *memMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) Get(ctx context.Context, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Market) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (s *memMarketStore) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markets, id)
	return nil
}

type memBetStore struct {
	mu   sync.Mutex
	bets map[uint64][]domain.Bet
}

func newMemBetStore() *memBetStore {
	return &memBetStore{bets: make(map[uint64][]domain.Bet)}
}

func (s *memBetStore) Insert(ctx context.Context, b domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[b.MarketID] = append(s.bets[b.MarketID], b)
	return nil
}

func (s *memBetStore) MarkClaimed(ctx context.Context, marketID uint64, bettor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets[marketID] {
		if s.bets[marketID][i].Bettor.Hex() == bettor {
			s.bets[marketID][i].Claimed = true
		}
	}
	return nil
}

func (s *memBetStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bets[marketID]), nil
}

func (s *memBetStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bets, marketID)
	return nil
}

type memClaimStore struct {
	mu     sync.Mutex
	claims map[uint64]map[string]bool
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{claims: make(map[uint64]map[string]bool)}
}

func (s *memClaimStore) Record(ctx context.Context, marketID uint64, claimant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[marketID] == nil {
		s.claims[marketID] = make(map[string]bool)
	}
	s.claims[marketID][claimant] = true
	return nil
}

func (s *memClaimStore) ListByMarket(ctx context.Context, marketID uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.claims[marketID]))
	for c := range s.claims[marketID] {
		out = append(out, c)
	}
	slices.Sort(out)
	return out, nil
}

func (s *memClaimStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, marketID)
	return nil
}

type poolKey struct {
	market  uint64
	outcome int
}

type memPoolStore struct {
	mu       sync.Mutex
	pools    map[poolKey]domain.Pool
	balances map[uint64][]domain.ShareBalance
}

func newMemPoolStore() *memPoolStore {
	return &memPoolStore{
		pools:    make(map[poolKey]domain.Pool),
		balances: make(map[uint64][]domain.ShareBalance),
	}
}

func (s *memPoolStore) UpsertPool(ctx context.Context, p domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[poolKey{p.MarketID, p.Outcome}] = p
	return nil
}

func (s *memPoolStore) UpsertBalance(ctx context.Context, b domain.ShareBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.balances[b.MarketID]
	for i := range list {
		if list[i].Outcome == b.Outcome && list[i].Holder == b.Holder {
			list[i] = b
			return nil
		}
	}
	s.balances[b.MarketID] = append(list, b)
	return nil
}

func (s *memPoolStore) ListPools(ctx context.Context, marketID uint64) ([]domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Pool
	for k, p := range s.pools {
		if k.market == marketID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Pool) int { return a.Outcome - b.Outcome })
	return out, nil
}

func (s *memPoolStore) ListBalances(ctx context.Context, marketID uint64) ([]domain.ShareBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.balances[marketID]), nil
}

func (s *memPoolStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.pools {
		if k.market == marketID {
			delete(s.pools, k)
		}
	}
	delete(s.balances, marketID)
	return nil
}

// newReplayEnv wires an engine against shared durable stores and a shared
// ledger, so a second call models the process coming back up.
func newReplayEnv(t *testing.T, cfg Config, persist Persistence, ledger *Ledger) *testEnv {
	t.Helper()
	env := &testEnv{
		gov:  governance.NewStatic([]common.Address{admin}),
		feed: &stubFeed{},
		sink: &sinkRecorder{},
		now:  time.Unix(1_700_000_000, 0),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.eng = New(cfg, Deps{
		Governance: env.gov,
		Feed:       env.feed,
		Sink:       env.sink,
		Persist:    persist,
		Ledger:     ledger,
		Now:        func() time.Time { return env.now },
	}, logger)
	return env
}

func TestClaimsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	persist := Persistence{
		Markets: newMemMarketStore(),
		Bets:    newMemBetStore(),
		Claims:  newMemClaimStore(),
		Pools:   newMemPoolStore(),
	}
	ledger := NewLedger()

	// A push limit of one forces the pull path: winners claim explicitly.
	cfg := Config{MaxPushPayoutWinners: 1}

	env := newReplayEnv(t, cfg, persist, ledger)
	env.fund(alice, 1200)
	env.fund(bob, 100)
	env.fund(carol, 50)

	p := env.params()
	p.Oracle = oracleConfig()
	p.SeedLiquidity = decimal.NewFromInt(500)
	m := env.createMarket(t, p)

	// bob holds shares only; carol holds a bet only. Both win on outcome 1.
	_, err := env.eng.BuyShares(ctx, bob, m.ID, 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, env.eng.PlaceBet(ctx, carol, m.ID, 1, decimal.NewFromInt(50)))

	env.now = env.now.Add(3 * time.Hour)
	env.feed.reading = env.goodReading(70000)
	status, err := env.eng.ResolveWithOracle(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusResolved, status)

	paid, err := env.eng.ClaimWinnings(ctx, bob, m.ID)
	require.NoError(t, err)
	require.True(t, paid.IsPositive())
	bobAfter := ledger.Balance(bob)

	// Fresh process over the same stores and ledger.
	rebooted := newReplayEnv(t, cfg, persist, ledger)
	rebooted.now = env.now
	require.NoError(t, rebooted.eng.Load(ctx))

	t.Run("paid share holder cannot claim again", func(t *testing.T) {
		_, err := rebooted.eng.ClaimWinnings(ctx, bob, m.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
		assert.True(t, ledger.Balance(bob).Equal(bobAfter), "balance moved on a refused claim")
	})

	t.Run("unpaid bettor claim still works after replay", func(t *testing.T) {
		paid, err := rebooted.eng.ClaimWinnings(ctx, carol, m.ID)
		require.NoError(t, err)
		assert.True(t, paid.Equal(decimal.NewFromInt(50)), "got %s", paid)

		_, err = rebooted.eng.ClaimWinnings(ctx, carol, m.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})
}
