package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/oracle"
)

// ResolveWithOracle resolves a PendingResolution market from its
// configured price feed. A reading that fails validation is never fatal:
// the market transitions to Disputed and a voting window opens, so a
// single bad oracle read can never strand funds. The returned status is
// either Resolved or Disputed on success.
func (e *Engine) ResolveWithOracle(ctx context.Context, marketID uint64) (domain.MarketStatus, error) {
	if err := e.checkFreeze(ctx, false); err != nil {
		return "", err
	}

	st, err := e.state(marketID)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)

	m := st.market
	if m.Status != domain.StatusPendingResolution {
		return "", domain.ErrWrongStatus.WithDetail("status %s, need %s", m.Status, domain.StatusPendingResolution)
	}
	if m.Oracle == nil {
		return "", domain.ErrNoOracle
	}
	if e.feed == nil {
		return "", fmt.Errorf("engine: no price feed configured")
	}

	// A transport failure is not a data-quality failure: the call aborts
	// atomically and the caller may retry.
	reading, err := e.feed.Latest(ctx, m.Oracle.FeedID)
	if err != nil {
		return "", fmt.Errorf("engine: fetch oracle reading for market %d: %w", marketID, err)
	}

	now := e.now()
	if verr := oracle.Validate(*m.Oracle, reading, now); verr != nil {
		e.openDispute(ctx, st, verr)
		return domain.StatusDisputed, nil
	}

	winner := oracle.MapOutcome(*m.Oracle, len(m.Outcomes), reading.Price)
	e.logger.InfoContext(ctx, "oracle resolution accepted",
		slog.Uint64("market_id", marketID),
		slog.String("price", reading.Price.String()),
		slog.Int("outcome", winner),
	)

	e.resolveLocked(ctx, st, winner, m.Oracle.Oracle)
	return domain.StatusResolved, nil
}

// openDispute transitions a market to Disputed and opens the voting
// window. Called with the market lock held.
func (e *Engine) openDispute(ctx context.Context, st *marketState, reason error) {
	m := st.market
	m.Status = domain.StatusDisputed
	end := e.now().Add(e.cfg.VotingWindow)
	m.VotingEndsAt = &end

	code, _ := domain.ErrCode(reason)
	e.logger.WarnContext(ctx, "oracle resolution rejected, opening dispute",
		slog.Uint64("market_id", m.ID),
		slog.Int("code", int(code)),
		slog.String("reason", reason.Error()),
	)

	e.persistMarket(ctx, m)
	e.emit(ctx, domain.TopicMarketDisputed, m.ID, common.Address{}, map[string]any{
		"code":           int(code),
		"reason":         reason.Error(),
		"voting_ends_at": end.Unix(),
	})
}

// SetOracleResult is the privileged manual fallback. It resolves directly
// to the given outcome a Disputed market that collected no votes (or whose
// vote cannot be trusted), and a PendingResolution market, which is the
// only resolution path for markets created without an oracle config.
func (e *Engine) SetOracleResult(ctx context.Context, caller common.Address, marketID uint64, outcome int) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}
	if !e.gov.IsAdmin(ctx, caller) {
		return domain.ErrNotAdmin
	}

	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)

	m := st.market
	if m.Status != domain.StatusDisputed && m.Status != domain.StatusPendingResolution {
		return domain.ErrWrongStatus.WithDetail("status %s, need %s or %s",
			m.Status, domain.StatusDisputed, domain.StatusPendingResolution)
	}
	if !m.ValidOutcome(outcome) {
		return domain.ErrInvalidOutcome.WithDetail("outcome %d of %d", outcome, len(m.Outcomes))
	}

	e.resolveLocked(ctx, st, outcome, caller)
	return nil
}
