package lending

import (
	"math/big"

	"lendflow/ledger"
)

// PoolRates is the derived rate snapshot for one pool.
type PoolRates struct {
	Utilisation *big.Rat
	BorrowAPR   *big.Rat
	LendAPR     *big.Rat
}

// PoolAccounting derives rates from pool state and validates liquidity
// movements before they are committed. It holds no state of its own; the
// ledger owns the pool records.
type PoolAccounting struct {
	model            *InterestModel
	reserveFactorBps uint64
}

// NewPoolAccounting wires the utilisation curve and reserve factor.
func NewPoolAccounting(model *InterestModel, reserveFactorBps uint64) *PoolAccounting {
	return &PoolAccounting{model: model.Clone(), reserveFactorBps: reserveFactorBps}
}

// CurrentRates computes the utilisation, borrow APR and lend APR for a pool.
func (p *PoolAccounting) CurrentRates(pool *ledger.Pool) PoolRates {
	utilisation := new(big.Rat)
	if pool != nil {
		utilisation = Utilisation(pool.TotalBorrowed, pool.TotalLiquidity)
	}
	return PoolRates{
		Utilisation: utilisation,
		BorrowAPR:   p.model.BorrowAPR(utilisation),
		LendAPR:     p.model.LendAPR(utilisation, p.reserveFactorBps),
	}
}

// BorrowRate returns the APR a floating-rate loan pays at the pool's current
// utilisation.
func (p *PoolAccounting) BorrowRate(pool *ledger.Pool) *big.Rat {
	return p.CurrentRates(pool).BorrowAPR
}

// LendRate returns the APR suppliers currently earn.
func (p *PoolAccounting) LendRate(pool *ledger.Pool) *big.Rat {
	return p.CurrentRates(pool).LendAPR
}

// CheckBorrow rejects a draw that would push total borrowed above total
// liquidity.
func (p *PoolAccounting) CheckBorrow(pool *ledger.Pool, amount *big.Int) error {
	if pool == nil {
		return ErrPoolNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if pool.FreeLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// CheckWithdraw rejects a liquidity withdrawal exceeding the pool's free
// liquidity; funds currently lent out cannot be withdrawn.
func (p *PoolAccounting) CheckWithdraw(pool *ledger.Pool, amount *big.Int) error {
	if pool == nil {
		return ErrPoolNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if pool.FreeLiquidity().Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}
