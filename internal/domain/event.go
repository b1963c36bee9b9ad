package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event topics. Off-chain indexers key on these; treat them as published
// identifiers like error codes.
const (
	TopicMarketCreated    = "market.created"
	TopicMarketCancelled  = "market.cancelled"
	TopicMarketResolved   = "market.resolved"
	TopicMarketDisputed   = "market.disputed"
	TopicMarketPruned     = "market.pruned"
	TopicBetPlaced        = "bet.placed"
	TopicSharesBought     = "shares.bought"
	TopicSharesSold       = "shares.sold"
	TopicVoteCast         = "vote.cast"
	TopicDisputeFinalized = "dispute.finalized"
	TopicPayoutPushed     = "payout.pushed"
	TopicWinningsClaimed  = "winnings.claimed"
	TopicDepositReleased  = "deposit.released"
)

// Event is the fixed shape emitted by every mutating call so indexers can
// reconstruct market state without re-querying storage.
type Event struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	MarketID  uint64         `json:"market_id"`
	Subject   common.Address `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// EventSink receives events from the engine. Implementations must not
// block the calling goroutine for long; failures are the sink's problem,
// never the engine's.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }
