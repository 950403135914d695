package ledger

import "context"

// Store is the transactional API through which every other component reads
// and mutates ledger records. Implementations must guarantee that Apply is
// all-or-nothing and that two sets sharing a serialization key never
// interleave.
type Store interface {
	// GetAccount returns the account for a case-normalized address, or
	// ErrNotFound when the address has never interacted with the ledger.
	GetAccount(ctx context.Context, address string) (*Account, error)
	// GetPool returns the pool for an asset symbol, or ErrNotFound.
	GetPool(ctx context.Context, asset string) (*Pool, error)
	// ListPools enumerates every configured pool.
	ListPools(ctx context.Context) ([]*Pool, error)
	// GetLoan returns a loan by id, active or closed, or ErrNotFound.
	GetLoan(ctx context.Context, id string) (*Loan, error)
	// LoansByOwner returns the owner's loans, optionally only active ones.
	LoansByOwner(ctx context.Context, address string, activeOnly bool) ([]*Loan, error)
	// GetDeposit returns the deposit position for (address, asset), or
	// ErrNotFound when the account never supplied to that pool.
	GetDeposit(ctx context.Context, address, asset string) (*DepositPosition, error)
	// DepositsByOwner returns every deposit position held by the address.
	DepositsByOwner(ctx context.Context, address string) ([]*DepositPosition, error)

	// EnsurePool creates the pool row for an asset if it does not exist yet.
	// Called once per supported asset at initialization.
	EnsurePool(ctx context.Context, asset string) error

	// Apply commits a mutation set atomically. It fails with
	// ErrInsufficientBalance when any delta would drive a non-negative field
	// below zero, and with ErrInvariantViolation when a pool would be left
	// with total borrowed above total liquidity. On error nothing is applied.
	Apply(ctx context.Context, set *MutationSet) error
}
