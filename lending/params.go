package lending

// RiskParameters groups the configured safety limits governing lending
// activity. All ratios are expressed in basis points for deterministic
// accounting.
type RiskParameters struct {
	// LiquidationThresholdBps scales collateral value in the health factor;
	// e.g. 8000 counts 80% of collateral value against debt.
	LiquidationThresholdBps uint64
	// MinHealthFactorBps is the lowest post-operation health factor accepted
	// at origination or collateral withdrawal, strictly above 10_000.
	MinHealthFactorBps uint64
	// LiquidationBonusBps is the discount granted to liquidators on seized
	// collateral.
	LiquidationBonusBps uint64
	// ReserveFactorBps is the share of borrow interest withheld from
	// suppliers for protocol reserves.
	ReserveFactorBps uint64
}

// DefaultRiskParameters mirror the illustrative platform defaults; real
// deployments override them in configuration.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThresholdBps: 8_000,
		MinHealthFactorBps:      15_000,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        1_000,
	}
}
