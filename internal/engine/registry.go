package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// CreateMarketParams are the inputs to market creation.
type CreateMarketParams struct {
	Creator            common.Address
	Description        string
	Outcomes           []string
	BettingDeadline    time.Time
	ResolutionDeadline time.Time
	Oracle             *domain.OracleConfig
	Tier               domain.Tier
	// SeedLiquidity, when positive, initializes one AMM pool per outcome
	// with (seed, seed) reserves, funded from the creator's balance.
	SeedLiquidity decimal.Decimal
}

// CreateMarket validates the parameters, locks the creation deposit for
// non-waived tiers, optionally seeds the AMM pools, assigns the next
// market id, and activates the market.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	if err := e.checkFreeze(ctx, false); err != nil {
		return domain.Market{}, err
	}

	if len(p.Outcomes) < 2 {
		return domain.Market{}, domain.ErrOutcomeCountLow.WithDetail("got %d", len(p.Outcomes))
	}
	if len(p.Outcomes) > e.cfg.MaxOutcomes {
		return domain.Market{}, domain.ErrTooManyOutcomes.WithDetail(
			"got %d, limit %d", len(p.Outcomes), e.cfg.MaxOutcomes)
	}

	now := e.now()
	betting := p.BettingDeadline
	resolution := p.ResolutionDeadline
	if !betting.After(now) || !resolution.After(now) {
		return domain.Market{}, domain.ErrInvalidDeadline.WithDetail("deadlines must be in the future")
	}
	if !betting.Before(resolution) {
		return domain.Market{}, domain.ErrInvalidDeadline.WithDetail(
			"betting deadline must precede resolution deadline")
	}

	if p.SeedLiquidity.IsNegative() {
		return domain.Market{}, domain.ErrZeroAmount.WithDetail("seed liquidity %s", p.SeedLiquidity)
	}

	if p.Oracle != nil {
		if err := validateOracleConfig(p.Oracle, len(p.Outcomes)); err != nil {
			return domain.Market{}, err
		}
	}

	tier := p.Tier
	if tier == "" {
		tier = domain.TierBasic
	}

	deposit := decimal.Zero
	if !tier.DepositWaived() {
		deposit = e.cfg.CreationDeposit
		if err := e.ledger.Lock(p.Creator, deposit); err != nil {
			return domain.Market{}, err
		}
	}

	if p.SeedLiquidity.IsPositive() {
		total := p.SeedLiquidity.Mul(decimal.NewFromInt(int64(len(p.Outcomes))))
		if err := e.ledger.Debit(p.Creator, total); err != nil {
			e.ledger.Unlock(p.Creator, deposit)
			return domain.Market{}, err
		}
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++

	m := &domain.Market{
		ID:                 id,
		Creator:            p.Creator,
		Description:        p.Description,
		Outcomes:           append([]string(nil), p.Outcomes...),
		BettingDeadline:    betting,
		ResolutionDeadline: resolution,
		Status:             domain.StatusActive,
		Oracle:             p.Oracle,
		Tier:               tier,
		CreationDeposit:    deposit,
		StakeByOutcome:     zeroPerOutcome(len(p.Outcomes)),
		VolumeByOutcome:    zeroPerOutcome(len(p.Outcomes)),
		CreatedAt:          now,
	}
	st := &marketState{
		market:  m,
		votes:   make(map[common.Address]*domain.Vote),
		claimed: make(map[common.Address]bool),
	}
	e.markets[id] = st
	e.mu.Unlock()

	if p.SeedLiquidity.IsPositive() {
		// Cannot collide: the id was just assigned.
		if err := e.liquidity.InitializePools(id, len(p.Outcomes), p.SeedLiquidity); err != nil {
			return domain.Market{}, fmt.Errorf("engine: seed pools for market %d: %w", id, err)
		}
		e.persistPools(ctx, id)
	}

	e.persistMarket(ctx, m)
	e.emit(ctx, domain.TopicMarketCreated, id, p.Creator, map[string]any{
		"description":    p.Description,
		"outcomes":       len(p.Outcomes),
		"tier":           string(tier),
		"deposit":        deposit.String(),
		"seed_liquidity": p.SeedLiquidity.String(),
	})

	e.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", id),
		slog.Int("outcomes", len(p.Outcomes)),
		slog.String("tier", string(tier)),
	)
	return *m, nil
}

// GetMarket returns a copy of the market record with deadline transitions
// applied.
func (e *Engine) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	st, err := e.state(id)
	if err != nil {
		return domain.Market{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e.advance(ctx, st)
	return *st.market, nil
}

// ListMarkets returns copies of all live markets ordered by id.
func (e *Engine) ListMarkets(ctx context.Context) []domain.Market {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	slices.Sort(ids)

	out := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		m, err := e.GetMarket(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// CancelMarket is the privileged escape hatch before resolution: the
// market stops accepting activity, the creation deposit is returned, and
// refunds become claimable (pull-style, so the cancelling call stays
// bounded regardless of bettor count).
func (e *Engine) CancelMarket(ctx context.Context, caller common.Address, id uint64) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}
	if !e.gov.IsAdmin(ctx, caller) {
		return domain.ErrNotAdmin
	}

	st, err := e.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	switch m.Status {
	case domain.StatusResolved, domain.StatusCancelled:
		return domain.ErrWrongStatus.WithDetail("status %s", m.Status)
	}

	m.Status = domain.StatusCancelled
	if !m.DepositReleased && m.CreationDeposit.IsPositive() {
		e.ledger.Unlock(m.Creator, m.CreationDeposit)
		m.DepositReleased = true
	}

	e.persistMarket(ctx, m)
	e.emit(ctx, domain.TopicMarketCancelled, id, caller, nil)
	return nil
}

// PruneMarket removes a resolved market's bulk storage once the grace
// period has elapsed, archiving a full snapshot first when an archiver is
// configured. Privileged.
func (e *Engine) PruneMarket(ctx context.Context, caller common.Address, id uint64) error {
	if err := e.checkFreeze(ctx, false); err != nil {
		return err
	}
	if !e.gov.IsAdmin(ctx, caller) {
		return domain.ErrNotAdmin
	}

	st, err := e.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	m := st.market
	if m.Status != domain.StatusResolved {
		return domain.ErrNotResolved.WithDetail("status %s", m.Status)
	}
	if m.ResolvedAt == nil || e.now().Sub(*m.ResolvedAt) < e.cfg.PruneGracePeriod {
		return domain.ErrGracePeriod
	}

	if e.archiver != nil {
		pools, balances := e.liquidity.Snapshot(id)
		snapshot := domain.ArchivedMarket{
			Market:   *m,
			Bets:     copyBets(st.bets),
			Votes:    copyVotes(st.votes),
			Pools:    pools,
			Balances: balances,
			Claimed:  claimedHex(st.claimed),
			PrunedAt: e.now(),
		}
		path, err := e.archiver.ArchiveMarket(ctx, snapshot)
		if err != nil {
			// Never drop records that have not been archived.
			return fmt.Errorf("engine: archive market %d: %w", id, err)
		}
		e.logger.InfoContext(ctx, "market archived",
			slog.Uint64("market_id", id),
			slog.String("path", path),
		)
	}

	e.emit(ctx, domain.TopicMarketPruned, id, caller, map[string]any{
		"bets":  len(st.bets),
		"votes": len(st.votes),
	})

	e.liquidity.RemoveMarket(id)
	e.deleteDurable(ctx, id)

	e.mu.Lock()
	delete(e.markets, id)
	e.mu.Unlock()
	return nil
}

// deleteDurable removes a market's bulk rows from the durable stores.
func (e *Engine) deleteDurable(ctx context.Context, id uint64) {
	type deleter struct {
		name string
		fn   func() error
	}
	var ops []deleter
	if e.persist.Bets != nil {
		ops = append(ops, deleter{"bets", func() error { return e.persist.Bets.DeleteByMarket(ctx, id) }})
	}
	if e.persist.Claims != nil {
		ops = append(ops, deleter{"claims", func() error { return e.persist.Claims.DeleteByMarket(ctx, id) }})
	}
	if e.persist.Votes != nil {
		ops = append(ops, deleter{"votes", func() error { return e.persist.Votes.DeleteByMarket(ctx, id) }})
	}
	if e.persist.Pools != nil {
		ops = append(ops, deleter{"pools", func() error { return e.persist.Pools.DeleteByMarket(ctx, id) }})
	}
	if e.persist.Markets != nil {
		ops = append(ops, deleter{"market", func() error { return e.persist.Markets.Delete(ctx, id) }})
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			e.logger.WarnContext(ctx, "prune delete failed",
				slog.Uint64("market_id", id),
				slog.String("store", op.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func validateOracleConfig(cfg *domain.OracleConfig, outcomes int) error {
	if len(cfg.Thresholds) != outcomes-1 {
		return domain.ErrInvalidOutcome.WithDetail(
			"oracle thresholds: got %d, need %d", len(cfg.Thresholds), outcomes-1)
	}
	for i := 1; i < len(cfg.Thresholds); i++ {
		if !cfg.Thresholds[i].GreaterThan(cfg.Thresholds[i-1]) {
			return domain.ErrInvalidOutcome.WithDetail("oracle thresholds must be strictly increasing")
		}
	}
	if cfg.MaxStalenessSeconds <= 0 || cfg.MaxConfidenceBps <= 0 {
		return domain.ErrInvalidDeadline.WithDetail("oracle staleness and confidence limits must be positive")
	}
	return nil
}

func zeroPerOutcome(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

func copyBets(bets []*domain.Bet) []domain.Bet {
	out := make([]domain.Bet, 0, len(bets))
	for _, b := range bets {
		out = append(out, *b)
	}
	return out
}

func copyVotes(votes map[common.Address]*domain.Vote) []domain.Vote {
	out := make([]domain.Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, *v)
	}
	return out
}

func claimedHex(claimed map[common.Address]bool) []string {
	out := make([]string, 0, len(claimed))
	for addr := range claimed {
		out = append(out, addr.Hex())
	}
	slices.Sort(out)
	return out
}
