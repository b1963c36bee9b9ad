package domain

import (
	"errors"
	"fmt"
)

// Code is a stable numeric error code consumed by client integrations.
// Codes are published and must never be renumbered; new codes are only
// ever appended.
type Code int

const (
	CodeMarketNotFound      Code = 1
	CodeWrongStatus         Code = 2
	CodeMarketClosed        Code = 3
	CodeInvalidOutcome      Code = 4
	CodeTooManyOutcomes     Code = 5
	CodeInvalidDeadline     Code = 6
	CodeInsufficientDeposit Code = 7
	CodeInsufficientBalance Code = 8
	CodeInsufficientShares  Code = 9
	CodeZeroAmount          Code = 10
	CodeStalePrice          Code = 11
	CodeConfidenceTooLow    Code = 12
	CodeNoOracle            Code = 13
	CodeAlreadyVoted        Code = 14
	CodeVotingClosed        Code = 15
	CodeNoVotes             Code = 16
	CodeAlreadyClaimed      Code = 17
	CodeNothingToClaim      Code = 18
	CodeNotAdmin            Code = 19
	CodeFrozen              Code = 20
	CodePoolExists          Code = 21
	CodeNoPool              Code = 22
	CodeGracePeriod         Code = 23
	CodeNotResolved         Code = 24
	CodeOutcomeCountLow     Code = 25
)

// Error pairs a stable code with a human-readable message. All engine
// entry points fail closed with one of these.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// WithDetail returns a copy of e with extra context appended to the
// message. The code is preserved so errors.Is against the sentinel and
// ErrCode both keep working.
func (e *Error) WithDetail(format string, args ...any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Is matches any *Error carrying the same code, so wrapped and
// detail-augmented errors compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrMarketNotFound      = &Error{CodeMarketNotFound, "market not found"}
	ErrWrongStatus         = &Error{CodeWrongStatus, "operation not allowed in current market status"}
	ErrMarketClosed        = &Error{CodeMarketClosed, "market is closed for betting"}
	ErrInvalidOutcome      = &Error{CodeInvalidOutcome, "outcome index out of range"}
	ErrTooManyOutcomes     = &Error{CodeTooManyOutcomes, "too many outcomes"}
	ErrInvalidDeadline     = &Error{CodeInvalidDeadline, "invalid deadline"}
	ErrInsufficientDeposit = &Error{CodeInsufficientDeposit, "insufficient balance for creation deposit"}
	ErrInsufficientBalance = &Error{CodeInsufficientBalance, "insufficient collateral balance"}
	ErrInsufficientShares  = &Error{CodeInsufficientShares, "insufficient share balance"}
	ErrZeroAmount          = &Error{CodeZeroAmount, "amount must be positive"}
	ErrStalePrice          = &Error{CodeStalePrice, "oracle price is stale"}
	ErrConfidenceTooLow    = &Error{CodeConfidenceTooLow, "oracle confidence interval too wide"}
	ErrNoOracle            = &Error{CodeNoOracle, "market has no oracle configuration"}
	ErrAlreadyVoted        = &Error{CodeAlreadyVoted, "voter already voted on this market"}
	ErrVotingClosed        = &Error{CodeVotingClosed, "voting window is not open"}
	ErrNoVotes             = &Error{CodeNoVotes, "no votes cast"}
	ErrAlreadyClaimed      = &Error{CodeAlreadyClaimed, "winnings already claimed"}
	ErrNothingToClaim      = &Error{CodeNothingToClaim, "nothing to claim"}
	ErrNotAdmin            = &Error{CodeNotAdmin, "caller is not an admin"}
	ErrFrozen              = &Error{CodeFrozen, "circuit breaker is engaged"}
	ErrPoolExists          = &Error{CodePoolExists, "pools already initialized"}
	ErrNoPool              = &Error{CodeNoPool, "no liquidity pool for market"}
	ErrGracePeriod         = &Error{CodeGracePeriod, "prune grace period has not elapsed"}
	ErrNotResolved         = &Error{CodeNotResolved, "market is not resolved"}
	ErrOutcomeCountLow     = &Error{CodeOutcomeCountLow, "a market needs at least two outcomes"}
)

// ErrCode extracts the stable code from err, unwrapping as needed.
// The second return is false when err carries no code.
func ErrCode(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
