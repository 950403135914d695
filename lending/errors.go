package lending

import "errors"

var (
	// ErrLoanNotFound reports an unknown or foreign loan id.
	ErrLoanNotFound = errors.New("lending: loan not found")
	// ErrPoolNotFound reports an asset with no configured pool.
	ErrPoolNotFound = errors.New("lending: pool not found")
	// ErrInvalidAmount rejects zero, negative or unparseable amounts before
	// they reach the ledger.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrInvalidAddress rejects requests whose wallet address fails
	// validation.
	ErrInvalidAddress = errors.New("lending: invalid wallet address")
	// ErrInsufficientLiquidity rejects a borrow that would push a pool's
	// outstanding debt above its liquidity, or a withdrawal of liquidity
	// that is currently lent out.
	ErrInsufficientLiquidity = errors.New("lending: insufficient pool liquidity")
	// ErrRiskRejected reports an origination or collateral withdrawal whose
	// resulting health factor falls below the configured minimum.
	ErrRiskRejected = errors.New("lending: position would fall below minimum health factor")
	// ErrOverRepayment rejects a repayment larger than the outstanding
	// balance; the caller must retry with a smaller amount, the engine never
	// clamps.
	ErrOverRepayment = errors.New("lending: repayment exceeds outstanding balance")
	// ErrNotEligibleForLiquidation reports a liquidation attempt against a
	// loan whose health factor is still at or above 1.
	ErrNotEligibleForLiquidation = errors.New("lending: loan not eligible for liquidation")
	// ErrLoanClosed rejects operations against a repaid or liquidated loan.
	ErrLoanClosed = errors.New("lending: loan is closed")
	// ErrDepositNotFound reports a withdrawal from a pool the account never
	// supplied to.
	ErrDepositNotFound = errors.New("lending: deposit position not found")
)
