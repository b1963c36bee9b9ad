// Package amm implements the constant-product liquidity engine: one
// independent pool per (market, outcome), priced by x*y=k with a fixed
// proportional fee. Pools for different outcomes never interact, which
// keeps every trade a single-pool, constant-work operation.
package amm

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// FeeBps is the proportional trade fee in basis points (0.3%). The fee is
// withheld before the swap enters the pool, so the stored k is preserved
// exactly and the pool never leaks value to zero-cost arbitrage.
const FeeBps = 30

// InvariantTolerance is the maximum relative drift of x*y from the stored
// k that VerifyInvariant accepts (0.01%).
var InvariantTolerance = decimal.NewFromFloat(0.0001)

var (
	bpsDenominator = decimal.NewFromInt(10000)
	feeKeep        = decimal.NewFromInt(10000 - FeeBps).Div(bpsDenominator)
)

type poolKey struct {
	market  uint64
	outcome int
}

// pool is the live state of one outcome pool.
type pool struct {
	collateral  decimal.Decimal // x
	shares      decimal.Decimal // y
	k           decimal.Decimal // fixed at initialization
	seed        decimal.Decimal // initial reserve on each side
	circulating decimal.Decimal
	feesPaid    decimal.Decimal // collected collateral fees (buys)
	feesShares  decimal.Decimal // collected share fees (sells)
	balances    map[common.Address]decimal.Decimal
}

// Trade is the result of an executed or quoted swap.
type Trade struct {
	// Delta is shares received on a buy, collateral received on a sell.
	Delta decimal.Decimal `json:"delta"`
	// Price is the pool's marginal price x'/y' after the swap.
	Price decimal.Decimal `json:"price"`
	// Fee is the withheld amount, in the trade's input unit.
	Fee decimal.Decimal `json:"fee"`
}

// Engine holds every live pool. Callers are expected to serialize calls
// per market; the internal lock only protects the pool map itself.
type Engine struct {
	mu    sync.RWMutex
	pools map[poolKey]*pool
}

// NewEngine creates an empty liquidity engine.
func NewEngine() *Engine {
	return &Engine{pools: make(map[poolKey]*pool)}
}

// InitializePools creates one pool per outcome with reserves (seed, seed),
// fixing k = seed^2. Fails if any pool for the market already exists.
func (e *Engine) InitializePools(marketID uint64, outcomeCount int, seed decimal.Decimal) error {
	if outcomeCount <= 0 {
		return domain.ErrInvalidOutcome.WithDetail("outcome count %d", outcomeCount)
	}
	if !seed.IsPositive() {
		return domain.ErrZeroAmount.WithDetail("seed liquidity %s", seed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pools[poolKey{marketID, 0}]; ok {
		return domain.ErrPoolExists.WithDetail("market %d", marketID)
	}
	for i := 0; i < outcomeCount; i++ {
		e.pools[poolKey{marketID, i}] = &pool{
			collateral:  seed,
			shares:      seed,
			k:           seed.Mul(seed),
			seed:        seed,
			circulating: decimal.Zero,
			balances:    make(map[common.Address]decimal.Decimal),
		}
	}
	return nil
}

// HasPools reports whether the market has initialized pools.
func (e *Engine) HasPools(marketID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.pools[poolKey{marketID, 0}]
	return ok
}

func (e *Engine) pool(marketID uint64, outcome int) (*pool, error) {
	p, ok := e.pools[poolKey{marketID, outcome}]
	if ok {
		return p, nil
	}
	if _, any := e.pools[poolKey{marketID, 0}]; any {
		return nil, domain.ErrInvalidOutcome.WithDetail("outcome %d", outcome)
	}
	return nil, domain.ErrNoPool.WithDetail("market %d", marketID)
}

// buyMath computes a buy against reserves without mutating anything.
func buyMath(p *pool, amountIn decimal.Decimal) (net, newX, newY, sharesOut decimal.Decimal) {
	net = amountIn.Mul(feeKeep)
	newX = p.collateral.Add(net)
	newY = p.k.Div(newX)
	sharesOut = p.shares.Sub(newY)
	return net, newX, newY, sharesOut
}

// sellMath computes a sell against reserves without mutating anything.
// The fee is taken from the incoming shares, so only the net share amount
// enters the pool and k is preserved.
func sellMath(p *pool, sharesIn decimal.Decimal) (net, newX, newY, amountOut decimal.Decimal) {
	net = sharesIn.Mul(feeKeep)
	newY = p.shares.Add(net)
	newX = p.k.Div(newY)
	amountOut = p.collateral.Sub(newX)
	return net, newX, newY, amountOut
}

// Buy executes a swap of collateral for outcome shares and credits the
// buyer's share balance. The caller is responsible for debiting the
// buyer's collateral.
func (e *Engine) Buy(marketID uint64, outcome int, buyer common.Address, amountIn decimal.Decimal) (Trade, error) {
	if !amountIn.IsPositive() {
		return Trade{}, domain.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pool(marketID, outcome)
	if err != nil {
		return Trade{}, err
	}

	net, newX, newY, sharesOut := buyMath(p, amountIn)

	p.collateral = newX
	p.shares = newY
	p.circulating = p.circulating.Add(sharesOut)
	p.feesPaid = p.feesPaid.Add(amountIn.Sub(net))
	p.balances[buyer] = p.balances[buyer].Add(sharesOut)

	return Trade{
		Delta: sharesOut,
		Price: newX.Div(newY),
		Fee:   amountIn.Sub(net),
	}, nil
}

// Sell executes the inverse swap, debiting the seller's share balance.
// The caller credits the seller's collateral with the returned Delta.
func (e *Engine) Sell(marketID uint64, outcome int, seller common.Address, sharesIn decimal.Decimal) (Trade, error) {
	if !sharesIn.IsPositive() {
		return Trade{}, domain.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pool(marketID, outcome)
	if err != nil {
		return Trade{}, err
	}
	if p.balances[seller].LessThan(sharesIn) {
		return Trade{}, domain.ErrInsufficientShares.WithDetail(
			"have %s, want %s", p.balances[seller], sharesIn)
	}

	net, newX, newY, amountOut := sellMath(p, sharesIn)

	p.collateral = newX
	p.shares = newY
	p.circulating = p.circulating.Sub(sharesIn)
	p.feesShares = p.feesShares.Add(sharesIn.Sub(net))
	p.balances[seller] = p.balances[seller].Sub(sharesIn)
	if p.balances[seller].IsZero() {
		delete(p.balances, seller)
	}

	return Trade{
		Delta: amountOut,
		Price: newX.Div(newY),
		Fee:   sharesIn.Sub(net),
	}, nil
}

// QuoteBuy previews a buy without mutating the pool.
func (e *Engine) QuoteBuy(marketID uint64, outcome int, amountIn decimal.Decimal) (Trade, error) {
	if !amountIn.IsPositive() {
		return Trade{}, domain.ErrZeroAmount
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(marketID, outcome)
	if err != nil {
		return Trade{}, err
	}
	net, newX, newY, sharesOut := buyMath(p, amountIn)
	return Trade{Delta: sharesOut, Price: newX.Div(newY), Fee: amountIn.Sub(net)}, nil
}

// QuoteSell previews a sell without mutating the pool.
func (e *Engine) QuoteSell(marketID uint64, outcome int, sharesIn decimal.Decimal) (Trade, error) {
	if !sharesIn.IsPositive() {
		return Trade{}, domain.ErrZeroAmount
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(marketID, outcome)
	if err != nil {
		return Trade{}, err
	}
	net, newX, newY, amountOut := sellMath(p, sharesIn)
	return Trade{Delta: amountOut, Price: newX.Div(newY), Fee: sharesIn.Sub(net)}, nil
}

// VerifyInvariant recomputes x*y and checks it against the stored k within
// the fixed tolerance. This is an auditing hook, not a hot-path check.
func (e *Engine) VerifyInvariant(marketID uint64, outcome int) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(marketID, outcome)
	if err != nil {
		return err
	}
	product := p.collateral.Mul(p.shares)
	drift := product.Sub(p.k).Abs().Div(p.k)
	if drift.GreaterThan(InvariantTolerance) {
		return fmt.Errorf("amm: invariant violated for market %d outcome %d: x*y=%s k=%s drift=%s",
			marketID, outcome, product, p.k, drift)
	}
	return nil
}

// BalanceOf returns holder's share balance in one outcome pool. Missing
// pools report zero.
func (e *Engine) BalanceOf(marketID uint64, outcome int, holder common.Address) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.pools[poolKey{marketID, outcome}]
	if !ok {
		return decimal.Zero
	}
	return p.balances[holder]
}

// Holders returns every address holding shares of the given outcome.
func (e *Engine) Holders(marketID uint64, outcome int) map[common.Address]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.pools[poolKey{marketID, outcome}]
	if !ok {
		return nil
	}
	out := make(map[common.Address]decimal.Decimal, len(p.balances))
	for addr, bal := range p.balances {
		out[addr] = bal
	}
	return out
}

// Circulating returns the outstanding share count for one outcome pool.
func (e *Engine) Circulating(marketID uint64, outcome int) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.pools[poolKey{marketID, outcome}]
	if !ok {
		return decimal.Zero
	}
	return p.circulating
}

// CollateralPot returns all collateral held for a market: every pool's
// reserve plus the collected collateral fees. This is the fund that backs
// AMM-side settlement.
func (e *Engine) CollateralPot(marketID uint64) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for i := 0; ; i++ {
		p, ok := e.pools[poolKey{marketID, i}]
		if !ok {
			break
		}
		total = total.Add(p.collateral).Add(p.feesPaid)
	}
	return total
}

// SeedTotal returns the combined seed liquidity across a market's pools,
// the creator's stake that settlement returns in one bounded transfer.
func (e *Engine) SeedTotal(marketID uint64) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for i := 0; ; i++ {
		p, ok := e.pools[poolKey{marketID, i}]
		if !ok {
			break
		}
		total = total.Add(p.seed)
	}
	return total
}

// TraderContribution returns one pool's net collateral paid in by traders:
// reserve plus collected fees minus the seed. Floored at zero against
// rounding dust.
func (e *Engine) TraderContribution(marketID uint64, outcome int) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.traderContribution(marketID, outcome)
}

func (e *Engine) traderContribution(marketID uint64, outcome int) decimal.Decimal {
	p, ok := e.pools[poolKey{marketID, outcome}]
	if !ok {
		return decimal.Zero
	}
	c := p.collateral.Add(p.feesPaid).Sub(p.seed)
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}

// TraderPot returns the combined trader contributions across a market's
// pools, the fund winning shareholders split at settlement.
func (e *Engine) TraderPot(marketID uint64) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for i := 0; ; i++ {
		if _, ok := e.pools[poolKey{marketID, i}]; !ok {
			break
		}
		total = total.Add(e.traderContribution(marketID, i))
	}
	return total
}

// Snapshot exports a market's pools and share balances for persistence or
// archival.
func (e *Engine) Snapshot(marketID uint64) ([]domain.Pool, []domain.ShareBalance) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var pools []domain.Pool
	var balances []domain.ShareBalance
	for i := 0; ; i++ {
		p, ok := e.pools[poolKey{marketID, i}]
		if !ok {
			break
		}
		pools = append(pools, domain.Pool{
			MarketID:          marketID,
			Outcome:           i,
			CollateralReserve: p.collateral,
			ShareReserve:      p.shares,
			K:                 p.k,
			Seed:              p.seed,
			SharesCirculating: p.circulating,
			FeesCollateral:    p.feesPaid,
			FeesShares:        p.feesShares,
		})
		for addr, bal := range p.balances {
			balances = append(balances, domain.ShareBalance{
				MarketID: marketID,
				Outcome:  i,
				Holder:   addr,
				Shares:   bal,
			})
		}
	}
	return pools, balances
}

// Restore rebuilds pool state from persisted records, used at boot.
func (e *Engine) Restore(pools []domain.Pool, balances []domain.ShareBalance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, dp := range pools {
		e.pools[poolKey{dp.MarketID, dp.Outcome}] = &pool{
			collateral:  dp.CollateralReserve,
			shares:      dp.ShareReserve,
			k:           dp.K,
			seed:        dp.Seed,
			circulating: dp.SharesCirculating,
			feesPaid:    dp.FeesCollateral,
			feesShares:  dp.FeesShares,
			balances:    make(map[common.Address]decimal.Decimal),
		}
	}
	for _, b := range balances {
		if p, ok := e.pools[poolKey{b.MarketID, b.Outcome}]; ok {
			p.balances[b.Holder] = b.Shares
		}
	}
}

// RemoveMarket drops every pool of a market, used by prune.
func (e *Engine) RemoveMarket(marketID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; ; i++ {
		key := poolKey{marketID, i}
		if _, ok := e.pools[key]; !ok {
			break
		}
		delete(e.pools, key)
	}
}
