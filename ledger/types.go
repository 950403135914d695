package ledger

import (
	"math/big"
	"time"
)

// RateMode selects how a loan's borrow rate is determined.
type RateMode string

const (
	// RateFixed locks the rate quoted at origination for the life of the loan.
	RateFixed RateMode = "fixed"
	// RateFloating reprices the loan from the pool's utilisation curve at
	// every accrual.
	RateFloating RateMode = "floating"
)

// CloseReason distinguishes the terminal states of a loan. Closed loans stay
// in the ledger with IsActive=false; they are never deleted.
type CloseReason string

const (
	ReasonRepaid     CloseReason = "repaid"
	ReasonLiquidated CloseReason = "liquidated"
)

// Account holds the off-chain balances tracked for a wallet address. Addresses
// are stored case-normalized; an account is created on first interaction and
// only ever zeroed afterwards.
type Account struct {
	// Address is the 0x-prefixed, lowercase wallet address.
	Address string
	// Balances maps asset symbol to the deposited amount in base units.
	Balances map[string]*big.Int
	// LoanIDs lists every loan ever opened by the account, active or not.
	LoanIDs   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the tracked amount for an asset, zero when the asset has
// never been touched.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if amount, ok := a.Balances[asset]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// Pool aggregates the liquidity state for one supported asset. Invariant:
// TotalBorrowed never exceeds TotalLiquidity after a committed mutation set.
type Pool struct {
	// Asset is the pool identifier, e.g. "ETH".
	Asset string
	// TotalLiquidity is the liquidity supplied by depositors, in base units.
	TotalLiquidity *big.Int
	// TotalBorrowed is the outstanding amount lent out of the pool.
	TotalBorrowed *big.Int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FreeLiquidity returns the amount currently withdrawable from the pool.
func (p *Pool) FreeLiquidity() *big.Int {
	if p == nil || p.TotalLiquidity == nil {
		return big.NewInt(0)
	}
	free := new(big.Int).Set(p.TotalLiquidity)
	if p.TotalBorrowed != nil {
		free.Sub(free, p.TotalBorrowed)
	}
	if free.Sign() < 0 {
		return big.NewInt(0)
	}
	return free
}

// Loan records a collateralized borrow position. Amounts are base units;
// InterestCarry holds the sub-unit accrual remainder so truncation never
// leaks value across ticks.
type Loan struct {
	ID               string
	Owner            string
	CollateralAsset  string
	CollateralAmount *big.Int
	BorrowAsset      string
	// Principal is the outstanding borrowed amount excluding interest.
	Principal *big.Int
	// AccruedInterest is the interest accumulated and not yet repaid.
	AccruedInterest *big.Int
	// InterestCarry is the fractional remainder left over by truncation at
	// the last accrual tick.
	InterestCarry *big.Rat
	RateMode      RateMode
	// FixedRateBps is the quoted APR in basis points; meaningful only for
	// RateFixed loans.
	FixedRateBps uint64
	OpenedAt     time.Time
	LastAccrual  time.Time
	IsActive     bool
	CloseReason  CloseReason
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outstanding returns principal plus accrued interest.
func (l *Loan) Outstanding() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	if l.Principal != nil {
		total.Add(total, l.Principal)
	}
	if l.AccruedInterest != nil {
		total.Add(total, l.AccruedInterest)
	}
	return total
}

// Clone returns a deep copy so callers never share mutable big values with
// the store.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.CollateralAmount = copyInt(l.CollateralAmount)
	clone.Principal = copyInt(l.Principal)
	clone.AccruedInterest = copyInt(l.AccruedInterest)
	clone.InterestCarry = copyRat(l.InterestCarry)
	return &clone
}

// DepositPosition tracks one account's supplied liquidity in one pool.
// Zeroed, not deleted, on full withdrawal.
type DepositPosition struct {
	ID       string
	Owner    string
	Asset    string
	Principal *big.Int
	// AccruedYield is the yield earned and not yet withdrawn.
	AccruedYield *big.Int
	// YieldCarry is the truncation remainder from the last yield tick.
	YieldCarry  *big.Rat
	SuppliedAt  time.Time
	LastAccrual time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Total returns principal plus accrued yield.
func (d *DepositPosition) Total() *big.Int {
	if d == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	if d.Principal != nil {
		total.Add(total, d.Principal)
	}
	if d.AccruedYield != nil {
		total.Add(total, d.AccruedYield)
	}
	return total
}

// Clone returns a deep copy of the deposit position.
func (d *DepositPosition) Clone() *DepositPosition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Principal = copyInt(d.Principal)
	clone.AccruedYield = copyInt(d.AccruedYield)
	clone.YieldCarry = copyRat(d.YieldCarry)
	return &clone
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyRat(v *big.Rat) *big.Rat {
	if v == nil {
		return nil
	}
	return new(big.Rat).Set(v)
}
