package ledger

import "errors"

var (
	// ErrNotFound reports a lookup for an account, pool, loan or deposit the
	// ledger has never seen. The service layer decides whether that means
	// zero-balance or a client error.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrInsufficientBalance reports a delta that would drive a non-negative
	// field below zero. The whole mutation set is rolled back.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvariantViolation signals the pool bookkeeping would be left
	// inconsistent (total borrowed above total liquidity). It aborts the
	// transaction and must surface loudly; it is never recovered locally.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)
