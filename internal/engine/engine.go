// Package engine implements the market lifecycle, liquidity, and
// settlement core: the registry and its state machine, parimutuel betting,
// AMM trading, oracle resolution with the dispute fallback, and push/pull
// settlement. Every public entry point runs to completion under the
// market's lock, so calls touching one market are totally ordered and
// either commit entirely or leave state untouched.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/amm"
	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/oracle"
)

// Defaults for the policy knobs. MaxOutcomes and MaxPushPayoutWinners are
// asymptotic safety limits: they cap the worst-case work a single call can
// perform, which is policy, not performance tuning.
const (
	DefaultMaxOutcomes          = 100
	DefaultMaxPushPayoutWinners = 50
	DefaultVotingWindow         = 48 * time.Hour
	DefaultPruneGracePeriod     = 30 * 24 * time.Hour

	// Gas model used by resolution metrics.
	gasBase      = 50_000
	gasPerWinner = 12_000
)

// Config holds the engine's policy parameters.
type Config struct {
	MaxOutcomes          int
	MaxPushPayoutWinners int
	CreationDeposit      decimal.Decimal
	VotingWindow         time.Duration
	PruneGracePeriod     time.Duration
}

// withDefaults fills zero fields with the default policy values.
func (c Config) withDefaults() Config {
	if c.MaxOutcomes <= 0 {
		c.MaxOutcomes = DefaultMaxOutcomes
	}
	if c.MaxPushPayoutWinners <= 0 {
		c.MaxPushPayoutWinners = DefaultMaxPushPayoutWinners
	}
	if c.CreationDeposit.IsZero() {
		c.CreationDeposit = decimal.NewFromInt(100)
	}
	if c.VotingWindow <= 0 {
		c.VotingWindow = DefaultVotingWindow
	}
	if c.PruneGracePeriod <= 0 {
		c.PruneGracePeriod = DefaultPruneGracePeriod
	}
	return c
}

// Persistence bundles the optional durable stores. Any field may be nil;
// the engine is fully functional in memory and treats store failures as
// non-fatal (logged, never failing the call).
type Persistence struct {
	Markets domain.MarketStore
	Bets    domain.BetStore
	Claims  domain.ClaimStore
	Pools   domain.PoolStore
	Votes   domain.VoteStore
	Events  domain.EventStore
}

// Deps are the engine's injected collaborators.
type Deps struct {
	Governance domain.Governance
	Feed       oracle.PriceFeed
	Sink       domain.EventSink
	Metrics    domain.MetricsCache
	Archiver   domain.Archiver
	Persist    Persistence
	Ledger     *Ledger
	// Now supplies the current time for every guard condition. Defaults to
	// time.Now; tests inject a fixed clock.
	Now func() time.Time
}

// marketState is the authoritative in-memory record of one market. Its
// mutex serializes every call touching the market.
type marketState struct {
	mu      sync.Mutex
	market  *domain.Market
	bets    []*domain.Bet
	votes   map[common.Address]*domain.Vote
	claimed map[common.Address]bool
}

// Engine is the settlement core.
type Engine struct {
	cfg       Config
	gov       domain.Governance
	feed      oracle.PriceFeed
	liquidity *amm.Engine
	ledger    *Ledger
	sink      domain.EventSink
	metrics   domain.MetricsCache
	archiver  domain.Archiver
	persist   Persistence
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex // guards markets and nextID
	markets map[uint64]*marketState
	nextID  uint64
}

// New creates an Engine. Governance must be non-nil; everything else in
// Deps is optional.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Ledger == nil {
		deps.Ledger = NewLedger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		gov:       deps.Governance,
		feed:      deps.Feed,
		liquidity: amm.NewEngine(),
		ledger:    deps.Ledger,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		archiver:  deps.Archiver,
		persist:   deps.Persist,
		logger:    logger.With(slog.String("component", "engine")),
		now:       deps.Now,
		markets:   make(map[uint64]*marketState),
		nextID:    1,
	}
}

// Ledger exposes the collateral ledger for deposit crediting by the outer
// surface.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Liquidity exposes the AMM engine for read-only inspection (invariant
// audits, pool snapshots).
func (e *Engine) Liquidity() *amm.Engine { return e.liquidity }

// checkFreeze enforces the circuit breaker. PartialFreeze still lets
// funds leave via claims; FullFreeze refuses every mutation.
func (e *Engine) checkFreeze(ctx context.Context, claim bool) error {
	switch e.gov.Freeze(ctx) {
	case domain.FreezeFull:
		return domain.ErrFrozen
	case domain.FreezePartial:
		if !claim {
			return domain.ErrFrozen
		}
	}
	return nil
}

// state returns the live record for a market.
func (e *Engine) state(id uint64) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound.WithDetail("id %d", id)
	}
	return st, nil
}

// advance applies the deadline-driven transitions lazily. It is called at
// the top of every entry point (and by the background sweeper) with the
// market lock held. Waiting is a guard condition, never an in-process wait.
func (e *Engine) advance(ctx context.Context, st *marketState) {
	m := st.market
	now := e.now()

	changed := false
	if m.Status == domain.StatusActive && !now.Before(m.BettingDeadline) {
		m.Status = domain.StatusClosed
		changed = true
	}
	if m.Status == domain.StatusClosed && !now.Before(m.ResolutionDeadline) {
		m.Status = domain.StatusPendingResolution
		changed = true
	}
	if changed {
		e.persistMarket(ctx, m)
	}
}

// Sweep advances deadline transitions across all markets. The application
// runs it on a ticker so indexers observe Closed/PendingResolution without
// waiting for the next user call.
func (e *Engine) Sweep(ctx context.Context) {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, st := range e.markets {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		e.advance(ctx, st)
		st.mu.Unlock()
	}
}

// emit pushes an event to the sink and appends it to the durable event
// store. Both are best-effort from the engine's perspective.
func (e *Engine) emit(ctx context.Context, topic string, marketID uint64, subject common.Address, payload map[string]any) {
	ev := domain.Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		MarketID:  marketID,
		Subject:   subject,
		Payload:   payload,
		EmittedAt: e.now(),
	}
	if e.sink != nil {
		e.sink.Emit(ev)
	}
	if e.persist.Events != nil {
		if err := e.persist.Events.Append(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "event append failed",
				slog.String("topic", topic),
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) persistMarket(ctx context.Context, m *domain.Market) {
	if e.persist.Markets == nil {
		return
	}
	if err := e.persist.Markets.Upsert(ctx, *m); err != nil {
		e.logger.WarnContext(ctx, "market write-through failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistBet(ctx context.Context, b *domain.Bet) {
	if e.persist.Bets == nil {
		return
	}
	if err := e.persist.Bets.Insert(ctx, *b); err != nil {
		e.logger.WarnContext(ctx, "bet write-through failed",
			slog.Uint64("market_id", b.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistVote(ctx context.Context, v *domain.Vote) {
	if e.persist.Votes == nil {
		return
	}
	if err := e.persist.Votes.Insert(ctx, *v); err != nil {
		e.logger.WarnContext(ctx, "vote write-through failed",
			slog.Uint64("market_id", v.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistPools(ctx context.Context, marketID uint64) {
	if e.persist.Pools == nil {
		return
	}
	pools, balances := e.liquidity.Snapshot(marketID)
	for _, p := range pools {
		if err := e.persist.Pools.UpsertPool(ctx, p); err != nil {
			e.logger.WarnContext(ctx, "pool write-through failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	for _, b := range balances {
		if err := e.persist.Pools.UpsertBalance(ctx, b); err != nil {
			e.logger.WarnContext(ctx, "share balance write-through failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// Load replays the durable stores into memory at boot. It is a no-op when
// no market store is configured.
func (e *Engine) Load(ctx context.Context) error {
	if e.persist.Markets == nil {
		return nil
	}

	markets, err := e.persist.Markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range markets {
		m := markets[i]
		st := &marketState{
			market:  &m,
			votes:   make(map[common.Address]*domain.Vote),
			claimed: make(map[common.Address]bool),
		}

		if e.persist.Bets != nil {
			bets, err := e.persist.Bets.ListByMarket(ctx, m.ID)
			if err != nil {
				return err
			}
			for j := range bets {
				b := bets[j]
				st.bets = append(st.bets, &b)
				if b.Claimed {
					st.claimed[b.Bettor] = true
				}
			}
		}
		if e.persist.Claims != nil {
			claimants, err := e.persist.Claims.ListByMarket(ctx, m.ID)
			if err != nil {
				return err
			}
			for _, c := range claimants {
				st.claimed[common.HexToAddress(c)] = true
			}
		}
		if e.persist.Votes != nil {
			votes, err := e.persist.Votes.ListByMarket(ctx, m.ID)
			if err != nil {
				return err
			}
			for j := range votes {
				v := votes[j]
				st.votes[v.Voter] = &v
			}
		}
		if e.persist.Pools != nil {
			pools, err := e.persist.Pools.ListPools(ctx, m.ID)
			if err != nil {
				return err
			}
			balances, err := e.persist.Pools.ListBalances(ctx, m.ID)
			if err != nil {
				return err
			}
			e.liquidity.Restore(pools, balances)
		}

		e.markets[m.ID] = st
		if m.ID >= e.nextID {
			e.nextID = m.ID + 1
		}
	}

	e.logger.InfoContext(ctx, "replayed markets from store",
		slog.Int("count", len(markets)),
	)
	return nil
}
