package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore is the durable record of market state. The engine owns the
// authoritative in-memory copy and writes through after each successful
// mutation; stores are replayed at boot.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Delete(ctx context.Context, id uint64) error
}

// BetStore persists parimutuel bets.
type BetStore interface {
	Insert(ctx context.Context, b Bet) error
	MarkClaimed(ctx context.Context, marketID uint64, bettor string) error
	ListByMarket(ctx context.Context, marketID uint64) ([]Bet, error)
	DeleteByMarket(ctx context.Context, marketID uint64) error
}

// ClaimStore records which claimants have been paid out on a market.
// Bets carry their own claimed flag, but share-only winners have no bet
// row, so claim idempotence needs its own durable record.
type ClaimStore interface {
	Record(ctx context.Context, marketID uint64, claimant string) error
	ListByMarket(ctx context.Context, marketID uint64) ([]string, error)
	DeleteByMarket(ctx context.Context, marketID uint64) error
}

// PoolStore persists AMM pool reserves and share balances.
type PoolStore interface {
	UpsertPool(ctx context.Context, p Pool) error
	UpsertBalance(ctx context.Context, b ShareBalance) error
	ListPools(ctx context.Context, marketID uint64) ([]Pool, error)
	ListBalances(ctx context.Context, marketID uint64) ([]ShareBalance, error)
	DeleteByMarket(ctx context.Context, marketID uint64) error
}

// VoteStore persists dispute votes.
type VoteStore interface {
	Insert(ctx context.Context, v Vote) error
	ListByMarket(ctx context.Context, marketID uint64) ([]Vote, error)
	DeleteByMarket(ctx context.Context, marketID uint64) error
}

// EventStore is the append-only record of emitted events, kept for
// indexer replay.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Event, error)
}

// MetricsCache caches resolution metrics for pre-resolution inspection.
type MetricsCache interface {
	Set(ctx context.Context, m ResolutionMetrics) error
	Get(ctx context.Context, marketID uint64, outcome int) (ResolutionMetrics, error)
	Invalidate(ctx context.Context, marketID uint64) error
}

// SignalBus publishes raw payloads to subscribers (redis pub/sub in
// production). The websocket hub and any off-process indexers consume it.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ArchivedMarket bundles everything the archiver snapshots before a
// market's bulk storage is pruned.
type ArchivedMarket struct {
	Market   Market         `json:"market"`
	Bets     []Bet          `json:"bets"`
	Votes    []Vote         `json:"votes"`
	Pools    []Pool         `json:"pools"`
	Balances []ShareBalance `json:"balances"`
	Claimed  []string       `json:"claimed,omitempty"`
	PrunedAt time.Time      `json:"pruned_at"`
}

// Archiver writes a pruned market's bulk records to cold storage and
// returns the object path.
type Archiver interface {
	ArchiveMarket(ctx context.Context, snapshot ArchivedMarket) (string, error)
}
