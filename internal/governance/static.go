// Package governance provides a config-backed stand-in for the external
// admin/circuit-breaker subsystem. The engine only ever consumes the
// domain.Governance capability; in production the freeze level and admin
// set come from the governance collaborator, here they come from
// configuration plus an atomic runtime override used by operators.
package governance

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelabs/settle/internal/domain"
)

// Static implements domain.Governance from a fixed admin set and a
// runtime-settable freeze level.
type Static struct {
	freeze atomic.Int32

	mu     sync.RWMutex
	admins map[common.Address]bool
}

// NewStatic creates a Static governance with the given admins and the
// circuit breaker closed.
func NewStatic(admins []common.Address) *Static {
	set := make(map[common.Address]bool, len(admins))
	for _, a := range admins {
		set[a] = true
	}
	return &Static{admins: set}
}

// Freeze returns the current circuit-breaker level.
func (s *Static) Freeze(ctx context.Context) domain.FreezeLevel {
	return domain.FreezeLevel(s.freeze.Load())
}

// SetFreeze updates the circuit-breaker level.
func (s *Static) SetFreeze(level domain.FreezeLevel) {
	s.freeze.Store(int32(level))
}

// IsAdmin reports whether caller is in the admin set.
func (s *Static) IsAdmin(ctx context.Context, caller common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[caller]
}
