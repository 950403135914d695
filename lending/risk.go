package lending

import (
	"context"
	"math/big"

	"lendflow/ledger"
	"lendflow/oracle"
)

// HealthFactor is the collateralization ratio of a loan. Infinite marks a
// loan with no outstanding debt, which is always healthy.
type HealthFactor struct {
	Ratio    *big.Rat
	Infinite bool
}

// Liquidatable reports whether the loan may be forcibly closed.
func (h HealthFactor) Liquidatable() bool {
	if h.Infinite {
		return false
	}
	return h.Ratio != nil && h.Ratio.Cmp(big.NewRat(1, 1)) < 0
}

// AtLeastBps reports whether the ratio meets a basis-point threshold.
func (h HealthFactor) AtLeastBps(bps uint64) bool {
	if h.Infinite {
		return true
	}
	if h.Ratio == nil {
		return false
	}
	threshold := new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
	return h.Ratio.Cmp(threshold) >= 0
}

// RiskEngine decides whether originations, repayments and withdrawals are
// safe, and flags loans eligible for liquidation. It is a pure consumer of
// the price feed; any feed failure fails closed.
type RiskEngine struct {
	params RiskParameters
	feed   oracle.PriceFeed
}

// NewRiskEngine constructs a risk engine with the given parameters and price
// feed.
func NewRiskEngine(params RiskParameters, feed oracle.PriceFeed) *RiskEngine {
	return &RiskEngine{params: params, feed: feed}
}

// Params returns the configured risk parameters.
func (r *RiskEngine) Params() RiskParameters { return r.params }

// HealthFactorFor computes
//
//	(collateral × collateralPrice × liquidationThreshold) / (outstanding × debtPrice)
//
// for an active loan. Zero outstanding debt yields the infinite health
// factor; a missing or stale price propagates oracle.ErrPriceUnavailable.
func (r *RiskEngine) HealthFactorFor(ctx context.Context, loan *ledger.Loan) (HealthFactor, error) {
	if loan == nil {
		return HealthFactor{}, ErrLoanNotFound
	}
	return r.healthFactor(ctx, loan.CollateralAsset, loan.CollateralAmount, loan.BorrowAsset, loan.Outstanding())
}

func (r *RiskEngine) healthFactor(ctx context.Context, collateralAsset string, collateral *big.Int, debtAsset string, debt *big.Int) (HealthFactor, error) {
	if debt == nil || debt.Sign() == 0 {
		return HealthFactor{Infinite: true}, nil
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return HealthFactor{Ratio: new(big.Rat)}, nil
	}
	collateralQuote, err := r.feed.Price(ctx, collateralAsset)
	if err != nil {
		return HealthFactor{}, err
	}
	debtQuote, err := r.feed.Price(ctx, debtAsset)
	if err != nil {
		return HealthFactor{}, err
	}

	threshold := new(big.Rat).SetFrac(new(big.Int).SetUint64(r.params.LiquidationThresholdBps), basisPoints)
	numerator := new(big.Rat).SetInt(collateral)
	numerator.Mul(numerator, collateralQuote.Price)
	numerator.Mul(numerator, threshold)

	denominator := new(big.Rat).SetInt(debt)
	denominator.Mul(denominator, debtQuote.Price)
	if denominator.Sign() == 0 {
		return HealthFactor{Infinite: true}, nil
	}
	return HealthFactor{Ratio: numerator.Quo(numerator, denominator)}, nil
}

// CanBorrow checks a proposed origination: the health factor of the resulting
// position must meet the configured minimum strictly before anything commits.
// Price feed failures fail closed.
func (r *RiskEngine) CanBorrow(ctx context.Context, collateralAsset string, collateral *big.Int, borrowAsset string, borrow *big.Int) (bool, error) {
	hf, err := r.healthFactor(ctx, collateralAsset, collateral, borrowAsset, borrow)
	if err != nil {
		return false, err
	}
	return hf.AtLeastBps(r.params.MinHealthFactorBps), nil
}

// SeizeAmount converts the outstanding debt of a liquidatable loan into
// collateral units, marked up by the liquidation bonus and capped at the
// pledged collateral. Truncation favours the borrower.
func (r *RiskEngine) SeizeAmount(ctx context.Context, loan *ledger.Loan) (*big.Int, error) {
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	debtQuote, err := r.feed.Price(ctx, loan.BorrowAsset)
	if err != nil {
		return nil, err
	}
	collateralQuote, err := r.feed.Price(ctx, loan.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if collateralQuote.Price.Sign() == 0 {
		return nil, oracle.ErrPriceUnavailable
	}
	bonus := new(big.Rat).SetFrac(new(big.Int).SetUint64(10_000+r.params.LiquidationBonusBps), basisPoints)
	value := new(big.Rat).SetInt(loan.Outstanding())
	value.Mul(value, debtQuote.Price)
	value.Mul(value, bonus)
	value.Quo(value, collateralQuote.Price)
	seize := new(big.Int).Quo(value.Num(), value.Denom())
	if loan.CollateralAmount != nil && seize.Cmp(loan.CollateralAmount) > 0 {
		seize = new(big.Int).Set(loan.CollateralAmount)
	}
	return seize, nil
}

// CanWithdrawCollateral applies the origination check to the post-withdrawal
// state of an active loan.
func (r *RiskEngine) CanWithdrawCollateral(ctx context.Context, loan *ledger.Loan, amount *big.Int) (bool, error) {
	if loan == nil {
		return false, ErrLoanNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	remaining := new(big.Int).Sub(loan.CollateralAmount, amount)
	if remaining.Sign() < 0 {
		return false, nil
	}
	hf, err := r.healthFactor(ctx, loan.CollateralAsset, remaining, loan.BorrowAsset, loan.Outstanding())
	if err != nil {
		return false, err
	}
	return hf.AtLeastBps(r.params.MinHealthFactorBps), nil
}
