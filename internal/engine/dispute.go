package engine

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// CastVote records one weighted vote on a disputed market. One vote per
// (voter, market); only while the voting window is open.
func (e *Engine) CastVote(ctx context.Context, voter common.Address, marketID uint64, outcome int, weight decimal.Decimal) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}

	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	if m.Status != domain.StatusDisputed {
		return domain.ErrWrongStatus.WithDetail("status %s, need %s", m.Status, domain.StatusDisputed)
	}
	if m.VotingEndsAt == nil || !e.now().Before(*m.VotingEndsAt) {
		return domain.ErrVotingClosed
	}
	if !m.ValidOutcome(outcome) {
		return domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(m.Outcomes))
	}
	if !weight.IsPositive() {
		return domain.ErrZeroAmount
	}
	if _, dup := st.votes[voter]; dup {
		return domain.ErrAlreadyVoted
	}

	v := &domain.Vote{
		Voter:    voter,
		MarketID: marketID,
		Outcome:  outcome,
		Weight:   weight,
		CastAt:   e.now(),
	}
	st.votes[voter] = v

	e.persistVote(ctx, v)
	e.emit(ctx, domain.TopicVoteCast, marketID, voter, map[string]any{
		"outcome": outcome,
		"weight":  weight.String(),
	})
	return nil
}

// FinalizeDispute tallies weighted votes once the voting window has
// closed. The outcome with the most weight wins; an exact tie falls to the
// lowest outcome index. With no votes at all the market stays Disputed and
// requires SetOracleResult.
func (e *Engine) FinalizeDispute(ctx context.Context, marketID uint64) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}

	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	if m.Status != domain.StatusDisputed {
		return domain.ErrWrongStatus.WithDetail("status %s, need %s", m.Status, domain.StatusDisputed)
	}
	if m.VotingEndsAt != nil && e.now().Before(*m.VotingEndsAt) {
		return domain.ErrVotingClosed.WithDetail("window open until %s", m.VotingEndsAt.UTC())
	}
	if len(st.votes) == 0 {
		return domain.ErrNoVotes
	}

	tally := make([]decimal.Decimal, len(m.Outcomes))
	for i := range tally {
		tally[i] = decimal.Zero
	}
	for _, v := range st.votes {
		tally[v.Outcome] = tally[v.Outcome].Add(v.Weight)
	}

	// Lowest index wins ties: only a strictly greater weight displaces the
	// current winner.
	winner := 0
	for i := 1; i < len(tally); i++ {
		if tally[i].GreaterThan(tally[winner]) {
			winner = i
		}
	}

	e.logger.InfoContext(ctx, "dispute finalized",
		slog.Uint64("market_id", marketID),
		slog.Int("outcome", winner),
		slog.String("weight", tally[winner].String()),
		slog.Int("votes", len(st.votes)),
	)

	e.emit(ctx, domain.TopicDisputeFinalized, marketID, common.Address{}, map[string]any{
		"outcome": winner,
		"weight":  tally[winner].String(),
		"votes":   len(st.votes),
	})
	e.resolveLocked(ctx, st, winner, common.Address{})
	return nil
}
