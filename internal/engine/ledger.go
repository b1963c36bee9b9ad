package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// Ledger is the in-memory collateral ledger standing in for the host
// token. Every transfer the engine performs goes through it, so tests can
// assert that funds are conserved end to end. Locked amounts (creation
// deposits) are held separately from the spendable balance.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]decimal.Decimal
	locked   map[common.Address]decimal.Decimal
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]decimal.Decimal),
		locked:   make(map[common.Address]decimal.Decimal),
	}
}

// Credit adds amount to the holder's spendable balance.
func (l *Ledger) Credit(holder common.Address, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[holder] = l.balances[holder].Add(amount)
}

// Debit removes amount from the holder's spendable balance, failing with
// the insufficient-balance code on a shortfall.
func (l *Ledger) Debit(holder common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[holder].LessThan(amount) {
		return domain.ErrInsufficientBalance.WithDetail(
			"have %s, want %s", l.balances[holder], amount)
	}
	l.balances[holder] = l.balances[holder].Sub(amount)
	return nil
}

// Lock moves amount from the spendable balance into the holder's locked
// bucket (used for creation deposits).
func (l *Ledger) Lock(holder common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[holder].LessThan(amount) {
		return domain.ErrInsufficientDeposit.WithDetail(
			"have %s, need %s", l.balances[holder], amount)
	}
	l.balances[holder] = l.balances[holder].Sub(amount)
	l.locked[holder] = l.locked[holder].Add(amount)
	return nil
}

// Unlock releases a previously locked amount back to the spendable
// balance. Unlocking more than is locked releases only what is held.
func (l *Ledger) Unlock(holder common.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[holder].LessThan(amount) {
		amount = l.locked[holder]
	}
	l.locked[holder] = l.locked[holder].Sub(amount)
	l.balances[holder] = l.balances[holder].Add(amount)
	if l.locked[holder].IsZero() {
		delete(l.locked, holder)
	}
}

// Balance returns the holder's spendable balance.
func (l *Ledger) Balance(holder common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[holder]
}

// Locked returns the holder's locked amount.
func (l *Ledger) Locked(holder common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked[holder]
}
