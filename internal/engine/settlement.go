package engine

import (
	"bytes"
	"context"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// resolveLocked locks in the winning outcome, releases the creation
// deposit, returns the AMM seed to the creator, and executes the payout
// mode decision. Called with the market lock held; the winner set is
// snapshotted here, before any payout mutation, so partial payouts can
// never apply against a still-mutable market.
func (e *Engine) resolveLocked(ctx context.Context, st *marketState, outcome int, subject common.Address) {
	m := st.market

	m.WinningOutcome = &outcome
	m.Status = domain.StatusResolved
	now := e.now()
	m.ResolvedAt = &now

	if !m.DepositReleased && m.CreationDeposit.IsPositive() {
		e.ledger.Unlock(m.Creator, m.CreationDeposit)
		m.DepositReleased = true
		e.emit(ctx, domain.TopicDepositReleased, m.ID, m.Creator, map[string]any{
			"amount": m.CreationDeposit.String(),
		})
	}

	// The seed liquidity was the creator's stake in the pools; it comes
	// back in a single bounded transfer. Traders' net contributions form
	// the AMM pot that winning shareholders split.
	if e.liquidity.HasPools(m.ID) {
		if seed := e.liquidity.SeedTotal(m.ID); seed.IsPositive() {
			e.ledger.Credit(m.Creator, seed)
		}
		// With nobody holding winning shares the AMM pot has no claimants;
		// it goes back to the creator rather than stranding.
		if e.liquidity.Circulating(m.ID, outcome).IsZero() {
			if pot := e.liquidity.TraderPot(m.ID); pot.IsPositive() {
				e.ledger.Credit(m.Creator, pot)
			}
		}
	}

	winners := e.winnersLocked(st, outcome)
	if len(winners) <= e.cfg.MaxPushPayoutWinners {
		m.PayoutMode = domain.PayoutPush
		e.pushPayoutsLocked(ctx, st, winners)
	} else {
		m.PayoutMode = domain.PayoutPull
	}

	e.persistMarket(ctx, m)
	e.invalidateMetrics(ctx, m.ID)
	e.emit(ctx, domain.TopicMarketResolved, m.ID, subject, map[string]any{
		"outcome":     outcome,
		"payout_mode": string(m.PayoutMode),
		"winners":     len(winners),
	})

	e.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", m.ID),
		slog.Int("outcome", outcome),
		slog.String("payout_mode", string(m.PayoutMode)),
		slog.Int("winners", len(winners)),
	)
}

// winnersLocked returns the distinct winning addresses in deterministic
// (byte) order: bettors with unclaimed stake on the winning outcome plus
// holders of the winning outcome's shares.
func (e *Engine) winnersLocked(st *marketState, outcome int) []common.Address {
	seen := make(map[common.Address]bool)
	for _, b := range st.bets {
		if b.Outcome == outcome && !b.Claimed {
			seen[b.Bettor] = true
		}
	}
	for addr, bal := range e.liquidity.Holders(st.market.ID, outcome) {
		if bal.IsPositive() {
			seen[addr] = true
		}
	}

	winners := make([]common.Address, 0, len(seen))
	for addr := range seen {
		winners = append(winners, addr)
	}
	sort.Slice(winners, func(i, j int) bool {
		return bytes.Compare(winners[i][:], winners[j][:]) < 0
	})
	return winners
}

// pushPayoutsLocked pays the bounded winner set in the resolving call.
func (e *Engine) pushPayoutsLocked(ctx context.Context, st *marketState, winners []common.Address) {
	total := decimal.Zero
	for _, addr := range winners {
		amount := e.payoutLocked(st, addr)
		if !amount.IsPositive() {
			continue
		}
		e.markClaimedLocked(ctx, st, addr)
		e.ledger.Credit(addr, amount)
		total = total.Add(amount)
	}

	e.emit(ctx, domain.TopicPayoutPushed, st.market.ID, common.Address{}, map[string]any{
		"winners": len(winners),
		"total":   total.String(),
	})
}

// payoutLocked computes a claimant's proportional winnings on a resolved
// market: their share of the parimutuel pot plus their share of the AMM
// trader pot.
func (e *Engine) payoutLocked(st *marketState, claimant common.Address) decimal.Decimal {
	m := st.market
	if m.WinningOutcome == nil {
		return decimal.Zero
	}
	w := *m.WinningOutcome

	payout := decimal.Zero

	// Parimutuel: stake_w / S * P.
	winningStake := m.StakeByOutcome[w]
	if winningStake.IsPositive() {
		stake := decimal.Zero
		for _, b := range st.bets {
			if b.Outcome == w && !b.Claimed && b.Bettor == claimant {
				stake = stake.Add(b.Amount)
			}
		}
		if stake.IsPositive() {
			payout = payout.Add(stake.Div(winningStake).Mul(m.TotalStaked()))
		}
	}

	// AMM: shares_w / circulating_w * trader pot.
	circ := e.liquidity.Circulating(m.ID, w)
	if circ.IsPositive() {
		bal := e.liquidity.BalanceOf(m.ID, w, claimant)
		if bal.IsPositive() {
			payout = payout.Add(bal.Div(circ).Mul(e.liquidity.TraderPot(m.ID)))
		}
	}

	return payout
}

// refundLocked computes a claimant's refund on a cancelled market: staked
// amounts in full plus their pro-rata slice of each pool's trader
// contributions.
func (e *Engine) refundLocked(st *marketState, claimant common.Address) decimal.Decimal {
	m := st.market

	refund := decimal.Zero
	for _, b := range st.bets {
		if b.Bettor == claimant && !b.Claimed {
			refund = refund.Add(b.Amount)
		}
	}

	for o := range m.Outcomes {
		circ := e.liquidity.Circulating(m.ID, o)
		if !circ.IsPositive() {
			continue
		}
		bal := e.liquidity.BalanceOf(m.ID, o, claimant)
		if bal.IsPositive() {
			refund = refund.Add(bal.Div(circ).Mul(e.liquidity.TraderContribution(m.ID, o)))
		}
	}
	return refund
}

// markClaimedLocked flags the claimant's bets and claim entry. The claimed
// set is what makes claims idempotent, so the claim gets its own durable
// row: bet flags alone would lose share-only winners across a restart.
func (e *Engine) markClaimedLocked(ctx context.Context, st *marketState, claimant common.Address) {
	st.claimed[claimant] = true
	for _, b := range st.bets {
		if b.Bettor == claimant && !b.Claimed {
			b.Claimed = true
		}
	}
	if e.persist.Bets != nil {
		if err := e.persist.Bets.MarkClaimed(ctx, st.market.ID, claimant.Hex()); err != nil {
			e.logger.WarnContext(ctx, "claim write-through failed",
				slog.Uint64("market_id", st.market.ID),
				slog.String("claimant", claimant.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.persist.Claims != nil {
		if err := e.persist.Claims.Record(ctx, st.market.ID, claimant.Hex()); err != nil {
			e.logger.WarnContext(ctx, "claim record write-through failed",
				slog.Uint64("market_id", st.market.ID),
				slog.String("claimant", claimant.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ClaimWinnings transfers a claimant's winnings on a resolved market, or
// their refund on a cancelled one. Idempotent: a repeat call fails with
// AlreadyClaimed. This is the one mutating entry point a PartialFreeze
// still allows.
func (e *Engine) ClaimWinnings(ctx context.Context, claimant common.Address, marketID uint64) (decimal.Decimal, error) {
	if err := e.checkFreeze(ctx, true); err != nil {
		return decimal.Zero, err
	}

	st, err := e.state(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	if m.Status != domain.StatusResolved && m.Status != domain.StatusCancelled {
		return decimal.Zero, domain.ErrNotResolved.WithDetail("status %s", m.Status)
	}
	if st.claimed[claimant] {
		return decimal.Zero, domain.ErrAlreadyClaimed
	}

	var amount decimal.Decimal
	if m.Status == domain.StatusResolved {
		amount = e.payoutLocked(st, claimant)
	} else {
		amount = e.refundLocked(st, claimant)
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNothingToClaim
	}

	e.markClaimedLocked(ctx, st, claimant)
	e.ledger.Credit(claimant, amount)

	e.emit(ctx, domain.TopicWinningsClaimed, marketID, claimant, map[string]any{
		"amount": amount.String(),
	})
	return amount, nil
}

// EstimateWinnerCount counts the distinct stakers and share holders on
// the given outcome, the input to the payout-mode decision.
func (e *Engine) EstimateWinnerCount(ctx context.Context, marketID uint64, outcome int) (int, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.market.ValidOutcome(outcome) {
		return 0, domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(st.market.Outcomes))
	}
	return len(e.winnersLocked(st, outcome)), nil
}

// GetResolutionMetrics reports the payout-mode decision inputs for a
// hypothetical resolution to the given outcome, so callers can inspect
// the Push/Pull choice before resolving. Served from the metrics cache
// when warm.
func (e *Engine) GetResolutionMetrics(ctx context.Context, marketID uint64, outcome int) (domain.ResolutionMetrics, error) {
	if e.metrics != nil {
		if cached, err := e.metrics.Get(ctx, marketID, outcome); err == nil {
			return cached, nil
		}
	}

	st, err := e.state(marketID)
	if err != nil {
		return domain.ResolutionMetrics{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	if !m.ValidOutcome(outcome) {
		return domain.ResolutionMetrics{}, domain.ErrInvalidOutcome.WithDetail(
			"outcome %d of %d", outcome, len(m.Outcomes))
	}

	count := len(e.winnersLocked(st, outcome))
	mode := domain.PayoutPull
	if count <= e.cfg.MaxPushPayoutWinners {
		mode = domain.PayoutPush
	}

	metrics := domain.ResolutionMetrics{
		MarketID:          marketID,
		Outcome:           outcome,
		WinnerCount:       count,
		TotalWinningStake: m.StakeByOutcome[outcome],
		GasEstimate:       uint64(gasBase + count*gasPerWinner),
		PayoutMode:        mode,
	}

	if e.metrics != nil {
		if err := e.metrics.Set(ctx, metrics); err != nil {
			e.logger.WarnContext(ctx, "metrics cache set failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return metrics, nil
}

// invalidateMetrics drops cached metrics after any mutation that changes
// the winner set.
func (e *Engine) invalidateMetrics(ctx context.Context, marketID uint64) {
	if e.metrics == nil {
		return
	}
	if err := e.metrics.Invalidate(ctx, marketID); err != nil {
		e.logger.WarnContext(ctx, "metrics cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
