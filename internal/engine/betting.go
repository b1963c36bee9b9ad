package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/amm"
	"github.com/outcomelabs/settle/internal/domain"
)

// PlaceBet stakes collateral on one outcome via the parimutuel path. Only
// allowed while the market is Active and the betting deadline has not
// passed.
func (e *Engine) PlaceBet(ctx context.Context, bettor common.Address, marketID uint64, outcome int, amount decimal.Decimal) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}

	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)

	m := st.market
	if m.Status != domain.StatusActive {
		return domain.ErrMarketClosed.WithDetail("status %s", m.Status)
	}
	if !m.ValidOutcome(outcome) {
		return domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(m.Outcomes))
	}
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}

	if err := e.ledger.Debit(bettor, amount); err != nil {
		return err
	}

	bet := &domain.Bet{
		ID:       uuid.New().String(),
		Bettor:   bettor,
		MarketID: marketID,
		Outcome:  outcome,
		Amount:   amount,
		PlacedAt: e.now(),
	}
	st.bets = append(st.bets, bet)
	m.StakeByOutcome[outcome] = m.StakeByOutcome[outcome].Add(amount)
	m.VolumeByOutcome[outcome] = m.VolumeByOutcome[outcome].Add(amount)

	e.persistBet(ctx, bet)
	e.persistMarket(ctx, m)
	e.invalidateMetrics(ctx, marketID)
	e.emit(ctx, domain.TopicBetPlaced, marketID, bettor, map[string]any{
		"outcome": outcome,
		"amount":  amount.String(),
	})
	return nil
}

// BuyShares swaps collateral for outcome shares through the market's AMM
// pool and returns the executed trade.
func (e *Engine) BuyShares(ctx context.Context, buyer common.Address, marketID uint64, outcome int, amountIn decimal.Decimal) (amm.Trade, error) {
	if err := e.checkFreeze(ctx, false); err != nil {
		return amm.Trade{}, err
	}

	st, err := e.state(marketID)
	if err != nil {
		return amm.Trade{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)

	m := st.market
	if m.Status != domain.StatusActive {
		return amm.Trade{}, domain.ErrMarketClosed.WithDetail("status %s", m.Status)
	}
	if !m.ValidOutcome(outcome) {
		return amm.Trade{}, domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(m.Outcomes))
	}
	if !amountIn.IsPositive() {
		return amm.Trade{}, domain.ErrZeroAmount
	}

	// Debit first: the ledger is shared across markets, so the balance
	// must be reserved before the pool mutates.
	if err := e.ledger.Debit(buyer, amountIn); err != nil {
		return amm.Trade{}, err
	}
	trade, err := e.liquidity.Buy(marketID, outcome, buyer, amountIn)
	if err != nil {
		e.ledger.Credit(buyer, amountIn)
		return amm.Trade{}, err
	}

	m.VolumeByOutcome[outcome] = m.VolumeByOutcome[outcome].Add(amountIn)

	e.persistPools(ctx, marketID)
	e.persistMarket(ctx, m)
	e.invalidateMetrics(ctx, marketID)
	e.emit(ctx, domain.TopicSharesBought, marketID, buyer, map[string]any{
		"outcome":    outcome,
		"amount_in":  amountIn.String(),
		"shares_out": trade.Delta.String(),
		"price":      trade.Price.String(),
	})

	e.logger.DebugContext(ctx, "shares bought",
		slog.Uint64("market_id", marketID),
		slog.Int("outcome", outcome),
		slog.String("shares", trade.Delta.String()),
	)
	return trade, nil
}

// SellShares swaps outcome shares back for collateral through the pool.
func (e *Engine) SellShares(ctx context.Context, seller common.Address, marketID uint64, outcome int, sharesIn decimal.Decimal) (amm.Trade, error) {
	if err := e.checkFreeze(ctx, false); err != nil {
		return amm.Trade{}, err
	}

	st, err := e.state(marketID)
	if err != nil {
		return amm.Trade{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)

	m := st.market
	if m.Status != domain.StatusActive {
		return amm.Trade{}, domain.ErrMarketClosed.WithDetail("status %s", m.Status)
	}
	if !m.ValidOutcome(outcome) {
		return amm.Trade{}, domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(m.Outcomes))
	}

	trade, err := e.liquidity.Sell(marketID, outcome, seller, sharesIn)
	if err != nil {
		return amm.Trade{}, err
	}
	e.ledger.Credit(seller, trade.Delta)

	m.VolumeByOutcome[outcome] = m.VolumeByOutcome[outcome].Add(trade.Delta)

	e.persistPools(ctx, marketID)
	e.persistMarket(ctx, m)
	e.invalidateMetrics(ctx, marketID)
	e.emit(ctx, domain.TopicSharesSold, marketID, seller, map[string]any{
		"outcome":    outcome,
		"shares_in":  sharesIn.String(),
		"amount_out": trade.Delta.String(),
		"price":      trade.Price.String(),
	})
	return trade, nil
}

// QuoteBuy previews a buy without touching state.
func (e *Engine) QuoteBuy(marketID uint64, outcome int, amountIn decimal.Decimal) (amm.Trade, error) {
	return e.liquidity.QuoteBuy(marketID, outcome, amountIn)
}

// QuoteSell previews a sell without touching state.
func (e *Engine) QuoteSell(marketID uint64, outcome int, sharesIn decimal.Decimal) (amm.Trade, error) {
	return e.liquidity.QuoteSell(marketID, outcome, sharesIn)
}
