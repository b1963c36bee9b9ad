package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// FreezeLevel is the circuit-breaker state supplied by the external
// governance collaborator. The engine consults it on every mutating entry
// point and never writes it.
type FreezeLevel int

const (
	// FreezeNone: the breaker is closed, all operations allowed.
	FreezeNone FreezeLevel = iota
	// FreezePartial: only fund-exit operations (claims) are allowed.
	FreezePartial
	// FreezeFull: all mutating operations are refused.
	FreezeFull
)

func (l FreezeLevel) String() string {
	switch l {
	case FreezeNone:
		return "closed"
	case FreezePartial:
		return "partial_freeze"
	case FreezeFull:
		return "full_freeze"
	default:
		return "unknown"
	}
}

// Governance is the injected capability exposing the admin/circuit-breaker
// subsystem. The engine only consumes it; the real implementation lives in
// an external collaborator (a static config-backed stand-in ships in
// internal/governance).
type Governance interface {
	Freeze(ctx context.Context) FreezeLevel
	IsAdmin(ctx context.Context, caller common.Address) bool
}
