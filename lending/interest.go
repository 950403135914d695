package lending

import "math/big"

// secondsPerYear is the accrual base; rates are annual, accrual is
// per-second.
const secondsPerYear = 31_536_000

var basisPoints = big.NewInt(10_000)

// InterestModel encapsulates the parameters that shape how borrow rates react
// to pool utilisation.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink represents the utilisation ratio where the slope changes to
	// discourage draining the pool.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a 2%
// base rate is 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	if m.BaseRate != nil {
		clone.BaseRate.Set(m.BaseRate)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilisation computes U = totalBorrowed / totalLiquidity. When no liquidity
// exists the utilisation is defined as zero.
func Utilisation(totalBorrowed, totalLiquidity *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalLiquidity)
}

// BorrowAPR derives the dynamic borrow APR from the current utilisation.
func (m *InterestModel) BorrowAPR(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// LendAPR derives the supplier rate: borrow APR scaled by utilisation with the
// reserve factor withheld.
func (m *InterestModel) LendAPR(utilisation *big.Rat, reserveFactorBps uint64) *big.Rat {
	if m == nil || utilisation == nil || utilisation.Sign() == 0 {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(utilisation)
	if borrowAPR.Sign() == 0 {
		return new(big.Rat)
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	reserve := new(big.Rat).SetFrac(big.NewInt(int64(reserveFactorBps)), basisPoints)
	oneMinus := new(big.Rat).Sub(big.NewRat(1, 1), reserve)
	lendAPR := new(big.Rat).Mul(borrowAPR, utilisation)
	return lendAPR.Mul(lendAPR, oneMinus)
}

// RateFromBps converts an APR expressed in basis points to a rational rate.
func RateFromBps(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// Accrue computes the simple interest earned by principal at the given annual
// rate over elapsed seconds, plus the carry left over from the previous tick.
// The integer part is returned as the accrual delta; the fractional remainder
// becomes the new carry, so repeated truncation never leaks value. The delta
// is never negative, and a zero elapsed time yields a zero delta with the
// carry untouched.
func Accrue(principal *big.Int, rate *big.Rat, elapsedSeconds uint64, carry *big.Rat) (*big.Int, *big.Rat) {
	newCarry := cloneRat(carry)
	if principal == nil || principal.Sign() <= 0 || rate == nil || rate.Sign() <= 0 || elapsedSeconds == 0 {
		return big.NewInt(0), newCarry
	}
	exact := new(big.Rat).SetInt(principal)
	exact.Mul(exact, rate)
	exact.Mul(exact, new(big.Rat).SetUint64(elapsedSeconds))
	exact.Quo(exact, new(big.Rat).SetInt64(secondsPerYear))
	exact.Add(exact, newCarry)

	// Truncate toward zero; exact is non-negative here.
	delta := new(big.Int).Quo(exact.Num(), exact.Denom())
	remainder := exact.Sub(exact, new(big.Rat).SetInt(delta))
	return delta, remainder
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides the starting configuration: a kinked curve
// with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
