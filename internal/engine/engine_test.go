package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/governance"
	"github.com/outcomelabs/settle/internal/oracle"
)

var (
	admin = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x000000000000000000000000000000000000ca01")
)

// stubFeed returns a canned reading or error.
type stubFeed struct {
	reading oracle.Reading
	err     error
}

func (f *stubFeed) Latest(ctx context.Context, feedID string) (oracle.Reading, error) {
	return f.reading, f.err
}

// sinkRecorder captures emitted events for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sinkRecorder) Emit(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Topic)
	}
	return out
}

func (s *sinkRecorder) has(topic string) bool {
	for _, t := range s.topics() {
		if t == topic {
			return true
		}
	}
	return false
}

// testEnv wires an engine against a controllable clock, a stub feed, and
// a recording event sink.
type testEnv struct {
	eng  *Engine
	gov  *governance.Static
	feed *stubFeed
	sink *sinkRecorder
	now  time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
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
		Now:        func() time.Time { return env.now },
	}, logger)
	return env
}

func (env *testEnv) fund(addr common.Address, amount int64) {
	env.eng.Ledger().Credit(addr, decimal.NewFromInt(amount))
}

// params returns a valid two-outcome market creation request.
func (env *testEnv) params() CreateMarketParams {
	return CreateMarketParams{
		Creator:            alice,
		Description:        "BTC closes above 60k this week",
		Outcomes:           []string{"no", "yes"},
		BettingDeadline:    env.now.Add(time.Hour),
		ResolutionDeadline: env.now.Add(2 * time.Hour),
	}
}

func (env *testEnv) createMarket(t *testing.T, p CreateMarketParams) domain.Market {
	t.Helper()
	m, err := env.eng.CreateMarket(context.Background(), p)
	require.NoError(t, err)
	return m
}

func oracleConfig() *domain.OracleConfig {
	return &domain.OracleConfig{
		FeedID:              "BTC/USD",
		MinResponses:        1,
		MaxStalenessSeconds: 300,
		MaxConfidenceBps:    100,
		Thresholds:          []decimal.Decimal{decimal.NewFromInt(60000)},
	}
}

// goodReading is fresh and confident relative to env.now.
func (env *testEnv) goodReading(price int64) oracle.Reading {
	return oracle.Reading{
		Price:       decimal.NewFromInt(price),
		Confidence:  decimal.NewFromInt(1),
		PublishTime: env.now.Add(-time.Second),
		Responses:   3,
	}
}

func TestDeadlineTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("betting deadline closes the market lazily", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())
		assert.Equal(t, domain.StatusActive, m.Status)

		env.now = env.now.Add(time.Hour)
		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusClosed, got.Status)
	})

	t.Run("resolution deadline moves to pending resolution", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())

		env.now = env.now.Add(3 * time.Hour)
		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingResolution, got.Status)
	})

	t.Run("sweep advances without a user call", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())

		env.now = env.now.Add(90 * time.Minute)
		env.eng.Sweep(ctx)

		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusClosed, got.Status)
	})
}

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("full freeze refuses everything including claims", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())

		env.gov.SetFreeze(domain.FreezeFull)

		_, err := env.eng.CreateMarket(ctx, env.params())
		assert.ErrorIs(t, err, domain.ErrFrozen)
		err = env.eng.PlaceBet(ctx, bob, m.ID, 0, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrFrozen)
		_, err = env.eng.ClaimWinnings(ctx, bob, m.ID)
		assert.ErrorIs(t, err, domain.ErrFrozen)
		_, err = env.eng.ResolveWithOracle(ctx, m.ID)
		assert.ErrorIs(t, err, domain.ErrFrozen)
	})

	t.Run("partial freeze allows only claims", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 1000)
		p := env.params()
		p.Oracle = oracleConfig()
		m := env.createMarket(t, p)
		require.NoError(t, env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(50)))

		env.now = env.now.Add(3 * time.Hour)
		env.feed.reading = env.goodReading(65000)
		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusResolved, status)

		env.gov.SetFreeze(domain.FreezePartial)

		err = env.eng.PlaceBet(ctx, bob, m.ID, 0, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrFrozen)
		_, err = env.eng.CreateMarket(ctx, env.params())
		assert.ErrorIs(t, err, domain.ErrFrozen)

		// The single bettor was paid by push at resolution; the claim path
		// itself must not be refused by the breaker.
		_, err = env.eng.ClaimWinnings(ctx, bob, m.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})
}

func TestGetResolutionMetrics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.fund(alice, 1000)
	env.fund(bob, 1000)
	env.fund(carol, 1000)

	m := env.createMarket(t, env.params())
	require.NoError(t, env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(50)))
	require.NoError(t, env.eng.PlaceBet(ctx, carol, m.ID, 1, decimal.NewFromInt(30)))

	t.Run("gas model and push decision", func(t *testing.T) {
		metrics, err := env.eng.GetResolutionMetrics(ctx, m.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, metrics.WinnerCount)
		assert.Equal(t, uint64(50_000+2*12_000), metrics.GasEstimate)
		assert.Equal(t, domain.PayoutPush, metrics.PayoutMode)
		assert.True(t, metrics.TotalWinningStake.Equal(decimal.NewFromInt(80)))
	})

	t.Run("no winners on the empty outcome", func(t *testing.T) {
		metrics, err := env.eng.GetResolutionMetrics(ctx, m.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, metrics.WinnerCount)
		assert.Equal(t, uint64(50_000), metrics.GasEstimate)
	})

	t.Run("invalid outcome", func(t *testing.T) {
		_, err := env.eng.GetResolutionMetrics(ctx, m.ID, 2)
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})
}

func TestEmittedTopics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.fund(alice, 1000)
	env.fund(bob, 1000)

	p := env.params()
	p.Oracle = oracleConfig()
	m := env.createMarket(t, p)
	require.NoError(t, env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(25)))

	env.now = env.now.Add(3 * time.Hour)
	env.feed.reading = env.goodReading(70000)
	_, err := env.eng.ResolveWithOracle(ctx, m.ID)
	require.NoError(t, err)

	for _, topic := range []string{
		domain.TopicMarketCreated,
		domain.TopicBetPlaced,
		domain.TopicDepositReleased,
		domain.TopicPayoutPushed,
		domain.TopicMarketResolved,
	} {
		assert.True(t, env.sink.has(topic), "missing topic %s", topic)
	}
}
