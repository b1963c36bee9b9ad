package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
)

// pendingMarket creates an oracle-backed market and moves the clock past
// the resolution deadline.
func pendingMarket(t *testing.T, env *testEnv) domain.Market {
	t.Helper()
	env.fund(alice, 1000)
	p := env.params()
	p.Oracle = oracleConfig()
	m := env.createMarket(t, p)
	env.now = env.now.Add(3 * time.Hour)
	return m
}

func TestResolveWithOracle(t *testing.T) {
	ctx := context.Background()

	t.Run("valid reading resolves via thresholds", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)

		env.feed.reading = env.goodReading(70000)
		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, status)

		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		require.NotNil(t, got.WinningOutcome)
		assert.Equal(t, 1, *got.WinningOutcome, "70000 is at or above the 60000 threshold")
		assert.NotNil(t, got.ResolvedAt)
	})

	t.Run("price below the threshold picks outcome zero", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)

		env.feed.reading = env.goodReading(55000)
		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusResolved, status)

		got, _ := env.eng.GetMarket(ctx, m.ID)
		assert.Equal(t, 0, *got.WinningOutcome)
	})

	t.Run("stale reading opens a dispute instead of failing", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)

		r := env.goodReading(70000)
		r.PublishTime = env.now.Add(-time.Hour)
		env.feed.reading = r

		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err, "a data-quality failure is not an error")
		assert.Equal(t, domain.StatusDisputed, status)

		got, _ := env.eng.GetMarket(ctx, m.ID)
		assert.Equal(t, domain.StatusDisputed, got.Status)
		require.NotNil(t, got.VotingEndsAt)
		assert.Equal(t, env.now.Add(DefaultVotingWindow), *got.VotingEndsAt)
		assert.True(t, env.sink.has(domain.TopicMarketDisputed))
	})

	t.Run("wide confidence opens a dispute", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)

		r := env.goodReading(70000)
		r.Confidence = decimal.NewFromInt(10000) // limit is 1% of 70000
		env.feed.reading = r

		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDisputed, status)
	})

	t.Run("transport failure aborts atomically", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)

		env.feed.err = errors.New("feed unreachable")
		_, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.Error(t, err)

		got, _ := env.eng.GetMarket(ctx, m.ID)
		assert.Equal(t, domain.StatusPendingResolution, got.Status, "a retry must still be possible")

		// Retry succeeds once the feed recovers.
		env.feed.err = nil
		env.feed.reading = env.goodReading(70000)
		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, status)
	})

	t.Run("requires pending resolution status", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		p := env.params()
		p.Oracle = oracleConfig()
		m := env.createMarket(t, p)

		_, err := env.eng.ResolveWithOracle(ctx, m.ID)
		assert.ErrorIs(t, err, domain.ErrWrongStatus, "market is still active")
	})

	t.Run("no oracle configured", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())
		env.now = env.now.Add(3 * time.Hour)

		_, err := env.eng.ResolveWithOracle(ctx, m.ID)
		assert.ErrorIs(t, err, domain.ErrNoOracle)
	})
}

func TestSetOracleResult(t *testing.T) {
	ctx := context.Background()

	disputed := func(t *testing.T) (*testEnv, uint64) {
		t.Helper()
		env := newTestEnv(t, Config{})
		m := pendingMarket(t, env)
		r := env.goodReading(70000)
		r.PublishTime = env.now.Add(-time.Hour)
		env.feed.reading = r
		status, err := env.eng.ResolveWithOracle(ctx, m.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusDisputed, status)
		return env, m.ID
	}

	t.Run("admin resolves a disputed market directly", func(t *testing.T) {
		env, id := disputed(t)
		require.NoError(t, env.eng.SetOracleResult(ctx, admin, id, 0))

		got, err := env.eng.GetMarket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, got.Status)
		assert.Equal(t, 0, *got.WinningOutcome)
	})

	t.Run("non-admin refused", func(t *testing.T) {
		env, id := disputed(t)
		err := env.eng.SetOracleResult(ctx, bob, id, 0)
		assert.ErrorIs(t, err, domain.ErrNotAdmin)
	})

	t.Run("refused while betting is open", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())
		err := env.eng.SetOracleResult(ctx, admin, m.ID, 0)
		assert.ErrorIs(t, err, domain.ErrWrongStatus)
	})

	t.Run("admin resolves an oracle-less market past its deadline", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 100)
		m := env.createMarket(t, env.params())
		require.NoError(t, env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(100)))

		env.now = env.now.Add(3 * time.Hour)
		require.NoError(t, env.eng.SetOracleResult(ctx, admin, m.ID, 1))

		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, got.Status)
		assert.Equal(t, 1, *got.WinningOutcome)
		assert.True(t, env.eng.Ledger().Balance(bob).Equal(decimal.NewFromInt(100)))
	})

	t.Run("invalid outcome", func(t *testing.T) {
		env, id := disputed(t)
		err := env.eng.SetOracleResult(ctx, admin, id, 9)
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})
}
