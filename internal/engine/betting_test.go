package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
)

func TestPlaceBet(t *testing.T) {
	ctx := context.Background()

	t.Run("debits the bettor and updates stake totals", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 200)
		m := env.createMarket(t, env.params())

		require.NoError(t, env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(75)))

		assert.True(t, env.eng.Ledger().Balance(bob).Equal(decimal.NewFromInt(125)))
		got, err := env.eng.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.StakeByOutcome[1].Equal(decimal.NewFromInt(75)))
		assert.True(t, got.StakeByOutcome[0].IsZero())
		assert.True(t, got.VolumeByOutcome[1].Equal(decimal.NewFromInt(75)))
	})

	t.Run("rejected after the betting deadline", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 200)
		m := env.createMarket(t, env.params())

		env.now = env.now.Add(time.Hour)
		err := env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrMarketClosed)
		assert.True(t, env.eng.Ledger().Balance(bob).Equal(decimal.NewFromInt(200)), "no debit on rejection")
	})

	t.Run("invalid outcome", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 200)
		m := env.createMarket(t, env.params())
		err := env.eng.PlaceBet(ctx, bob, m.ID, 2, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})

	t.Run("zero amount", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		m := env.createMarket(t, env.params())
		err := env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrZeroAmount)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 5)
		m := env.createMarket(t, env.params())
		err := env.eng.PlaceBet(ctx, bob, m.ID, 1, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	t.Run("unknown market", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		err := env.eng.PlaceBet(ctx, bob, 404, 0, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	})
}

func seededMarket(t *testing.T, env *testEnv) domain.Market {
	t.Helper()
	env.fund(alice, 1100)
	p := env.params()
	p.SeedLiquidity = decimal.NewFromInt(500)
	return env.createMarket(t, p)
}

func TestBuyShares(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps collateral for shares", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := seededMarket(t, env)
		env.fund(bob, 200)

		trade, err := env.eng.BuyShares(ctx, bob, m.ID, 1, decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.True(t, trade.Delta.IsPositive())
		assert.True(t, env.eng.Ledger().Balance(bob).Equal(decimal.NewFromInt(100)))
		assert.True(t, env.eng.Liquidity().BalanceOf(m.ID, 1, bob).Equal(trade.Delta))
	})

	t.Run("debit rolls back when the pool rejects", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.fund(alice, 1000)
		env.fund(bob, 200)
		m := env.createMarket(t, env.params()) // no pools

		_, err := env.eng.BuyShares(ctx, bob, m.ID, 1, decimal.NewFromInt(100))
		assert.ErrorIs(t, err, domain.ErrNoPool)
		assert.True(t, env.eng.Ledger().Balance(bob).Equal(decimal.NewFromInt(200)), "debit must be refunded")
	})

	t.Run("closed market refuses trades", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := seededMarket(t, env)
		env.fund(bob, 200)

		env.now = env.now.Add(time.Hour)
		_, err := env.eng.BuyShares(ctx, bob, m.ID, 1, decimal.NewFromInt(50))
		assert.ErrorIs(t, err, domain.ErrMarketClosed)
	})
}

func TestSellShares(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the seller with the swap output", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := seededMarket(t, env)
		env.fund(bob, 200)

		buy, err := env.eng.BuyShares(ctx, bob, m.ID, 1, decimal.NewFromInt(100))
		require.NoError(t, err)

		sell, err := env.eng.SellShares(ctx, bob, m.ID, 1, buy.Delta)
		require.NoError(t, err)

		want := decimal.NewFromInt(100).Add(sell.Delta)
		assert.True(t, env.eng.Ledger().Balance(bob).Equal(want))
		assert.True(t, env.eng.Liquidity().BalanceOf(m.ID, 1, bob).IsZero())
	})

	t.Run("cannot sell shares never bought", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		m := seededMarket(t, env)
		_, err := env.eng.SellShares(ctx, bob, m.ID, 1, decimal.NewFromInt(5))
		assert.ErrorIs(t, err, domain.ErrInsufficientShares)
	})
}

func TestQuotes(t *testing.T) {
	env := newTestEnv(t, Config{})
	m := seededMarket(t, env)

	buyQuote, err := env.eng.QuoteBuy(m.ID, 0, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, buyQuote.Delta.IsPositive())

	// Quoting must not move the pool.
	again, err := env.eng.QuoteBuy(m.ID, 0, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, buyQuote.Delta.Equal(again.Delta))

	_, err = env.eng.QuoteSell(m.ID, 0, decimal.NewFromInt(10))
	require.NoError(t, err)
}
