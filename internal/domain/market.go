// Package domain defines the shared types of the settlement engine: markets,
// bets, liquidity pools, votes, events, error codes, and the store, cache,
// and governance interfaces implemented elsewhere.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// monotonic: Active -> Closed -> PendingResolution -> {Resolved | Disputed
// -> Resolved}; Cancelled is reachable from any pre-resolution state via
// privileged action.
type MarketStatus string

const (
	StatusActive            MarketStatus = "active"
	StatusClosed            MarketStatus = "closed"
	StatusPendingResolution MarketStatus = "pending_resolution"
	StatusDisputed          MarketStatus = "disputed"
	StatusResolved          MarketStatus = "resolved"
	StatusCancelled         MarketStatus = "cancelled"
)

// PayoutMode is decided once at resolution time based on the winner count.
type PayoutMode string

const (
	// PayoutPush means the resolving call iterated the bounded winner set
	// and transferred winnings directly.
	PayoutPush PayoutMode = "push"
	// PayoutPull means each winner must claim individually.
	PayoutPull PayoutMode = "pull"
)

// Tier is the creator's reputation tier. Pro and Institutional creators
// have their creation deposit waived.
type Tier string

const (
	TierBasic         Tier = "basic"
	TierPro           Tier = "pro"
	TierInstitutional Tier = "institutional"
)

// DepositWaived reports whether the tier skips the creation deposit.
func (t Tier) DepositWaived() bool {
	return t == TierPro || t == TierInstitutional
}

// OracleConfig describes the external price feed used to resolve a market.
// Immutable once the market is created.
type OracleConfig struct {
	Oracle              common.Address `json:"oracle"`
	FeedID              string         `json:"feed_id"`
	MinResponses        int            `json:"min_responses"`
	MaxStalenessSeconds int64          `json:"max_staleness_seconds"`
	MaxConfidenceBps    int64          `json:"max_confidence_bps"`
	// Thresholds maps a validated price to a winning outcome: price below
	// Thresholds[0] resolves outcome 0, below Thresholds[1] outcome 1, and
	// so on; at or above the last threshold the last outcome wins. Must be
	// strictly increasing with len(Outcomes)-1 entries.
	Thresholds []decimal.Decimal `json:"thresholds"`
}

// Market is a binary or multi-outcome prediction market.
type Market struct {
	ID                 uint64          `json:"id"`
	Creator            common.Address  `json:"creator"`
	Description        string          `json:"description"`
	Outcomes           []string        `json:"outcomes"`
	BettingDeadline    time.Time       `json:"betting_deadline"`
	ResolutionDeadline time.Time       `json:"resolution_deadline"`
	Status             MarketStatus    `json:"status"`
	Oracle             *OracleConfig   `json:"oracle,omitempty"`
	WinningOutcome     *int            `json:"winning_outcome,omitempty"`
	PayoutMode         PayoutMode      `json:"payout_mode,omitempty"`
	Tier               Tier            `json:"tier"`
	CreationDeposit    decimal.Decimal `json:"creation_deposit"`
	DepositReleased    bool            `json:"deposit_released"`
	// StakeByOutcome holds the parimutuel stake totals per outcome.
	StakeByOutcome []decimal.Decimal `json:"stake_by_outcome"`
	// VolumeByOutcome accumulates gross traded volume per outcome across
	// both the parimutuel and AMM paths.
	VolumeByOutcome []decimal.Decimal `json:"volume_by_outcome"`
	VotingEndsAt    *time.Time        `json:"voting_ends_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

// TotalStaked returns the combined parimutuel pot across all outcomes.
func (m *Market) TotalStaked() decimal.Decimal {
	total := decimal.Zero
	for _, s := range m.StakeByOutcome {
		total = total.Add(s)
	}
	return total
}

// ValidOutcome reports whether idx addresses one of the market's outcomes.
func (m *Market) ValidOutcome(idx int) bool {
	return idx >= 0 && idx < len(m.Outcomes)
}

// Bet is a single parimutuel stake on one outcome of a market.
type Bet struct {
	ID       string          `json:"id"`
	Bettor   common.Address  `json:"bettor"`
	MarketID uint64          `json:"market_id"`
	Outcome  int             `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
	PlacedAt time.Time       `json:"placed_at"`
	Claimed  bool            `json:"claimed"`
}

// Vote is one weighted dispute vote. One vote per (voter, market).
type Vote struct {
	Voter    common.Address  `json:"voter"`
	MarketID uint64          `json:"market_id"`
	Outcome  int             `json:"outcome"`
	Weight   decimal.Decimal `json:"weight"`
	CastAt   time.Time       `json:"cast_at"`
}

// Pool is the persisted view of one constant-product pool. The live pool
// state is owned by the liquidity engine; this record is the durable copy.
type Pool struct {
	MarketID          uint64          `json:"market_id"`
	Outcome           int             `json:"outcome"`
	CollateralReserve decimal.Decimal `json:"collateral_reserve"`
	ShareReserve      decimal.Decimal `json:"share_reserve"`
	K                 decimal.Decimal `json:"k"`
	Seed              decimal.Decimal `json:"seed"`
	SharesCirculating decimal.Decimal `json:"shares_circulating"`
	// Collected fees sit outside the reserves but inside the pot math, so
	// the durable copy must carry them or replay undercounts every pot.
	FeesCollateral decimal.Decimal `json:"fees_collateral"`
	FeesShares     decimal.Decimal `json:"fees_shares"`
}

// ShareBalance is one holder's share position in one outcome pool.
type ShareBalance struct {
	MarketID uint64          `json:"market_id"`
	Outcome  int             `json:"outcome"`
	Holder   common.Address  `json:"holder"`
	Shares   decimal.Decimal `json:"shares"`
}

// ResolutionMetrics describes the payout-mode decision inputs for a
// (market, outcome) pair so callers can inspect them before resolving.
type ResolutionMetrics struct {
	MarketID          uint64          `json:"market_id"`
	Outcome           int             `json:"outcome"`
	WinnerCount       int             `json:"winner_count"`
	TotalWinningStake decimal.Decimal `json:"total_winning_stake"`
	GasEstimate       uint64          `json:"gas_estimate"`
	PayoutMode        PayoutMode      `json:"payout_mode"`
}
