package lending

import (
	"math/big"

	"lendflow/ledger"
)

// OpenLoanRequest proposes a new collateralized borrow. Amounts are base
// units of their respective assets.
type OpenLoanRequest struct {
	Address          string
	CollateralAsset  string
	CollateralAmount *big.Int
	BorrowAsset      string
	BorrowAmount     *big.Int
	// RateMode defaults to floating when empty.
	RateMode ledger.RateMode
}

// OpenLoanResult reports a committed origination.
type OpenLoanResult struct {
	Loan   *ledger.Loan
	TxHash string
}

// RepayRequest applies amount to a loan, interest first.
type RepayRequest struct {
	Address string
	LoanID  string
	Amount  *big.Int
}

// RepayResult reports how a repayment was split and whether collateral was
// released.
type RepayResult struct {
	Loan               *ledger.Loan
	InterestPaid       *big.Int
	PrincipalPaid      *big.Int
	CollateralReturned *big.Int
	TxHash             string
}

// LiquidateRequest closes an undercollateralized loan on behalf of a
// liquidator who covers the outstanding debt.
type LiquidateRequest struct {
	Liquidator string
	LoanID     string
}

// LiquidateResult reports the repaid debt and seized collateral.
type LiquidateResult struct {
	Loan   *ledger.Loan
	Repaid *big.Int
	Seized *big.Int
	TxHash string
}

// DepositRequest supplies liquidity to a pool from the account's tracked
// balance.
type DepositRequest struct {
	Address string
	Asset   string
	Amount  *big.Int
}

// DepositResult reports the updated deposit position.
type DepositResult struct {
	Position *ledger.DepositPosition
	TxHash   string
}

// WithdrawRequest removes supplied liquidity, yield first.
type WithdrawRequest struct {
	Address string
	Asset   string
	Amount  *big.Int
}

// WithdrawResult reports the updated deposit position after withdrawal.
type WithdrawResult struct {
	Position *ledger.DepositPosition
	TxHash   string
}

// PoolView is the query snapshot for one pool with derived rates.
type PoolView struct {
	Asset          string
	TotalLiquidity *big.Int
	TotalBorrowed  *big.Int
	Utilisation    *big.Rat
	BorrowAPR      *big.Rat
	LendAPR        *big.Rat
}

// LoanView pairs a loan with its current (virtually accrued) outstanding
// balance and health factor.
type LoanView struct {
	Loan        *ledger.Loan
	Outstanding *big.Int
	Health      HealthFactor
	// HealthKnown is false when the price feed could not produce a ratio;
	// risk decisions fail closed in that case.
	HealthKnown bool
}

// AccountSummary is the per-address aggregate exposed to the user query.
// TotalBorrowed and TotalLent are keyed by asset symbol; amounts across
// assets live on different scales and never sum into one figure.
type AccountSummary struct {
	Address       string
	Balances      map[string]*big.Int
	TotalBorrowed map[string]*big.Int
	TotalLent     map[string]*big.Int
	ActiveLoans   []*ledger.Loan
}
