package storage

import (
	"fmt"
	"math/big"

	"lendflow/ledger"
)

func parseAmount(column, raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: corrupt %s %q", ledger.ErrInvariantViolation, column, raw)
	}
	return value, nil
}

func parseCarry(column, raw string) (*big.Rat, error) {
	if raw == "" {
		return new(big.Rat), nil
	}
	value, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("%w: corrupt %s %q", ledger.ErrInvariantViolation, column, raw)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func carryString(v *big.Rat) string {
	if v == nil {
		return "0"
	}
	return v.RatString()
}

func loanFromModel(m *Loan) (*ledger.Loan, error) {
	collateral, err := parseAmount("loan collateral", m.CollateralAmount)
	if err != nil {
		return nil, err
	}
	principal, err := parseAmount("loan principal", m.Principal)
	if err != nil {
		return nil, err
	}
	interest, err := parseAmount("loan interest", m.AccruedInterest)
	if err != nil {
		return nil, err
	}
	carry, err := parseCarry("loan carry", m.InterestCarry)
	if err != nil {
		return nil, err
	}
	return &ledger.Loan{
		ID:               m.ID,
		Owner:            m.Owner,
		CollateralAsset:  m.CollateralAsset,
		CollateralAmount: collateral,
		BorrowAsset:      m.BorrowAsset,
		Principal:        principal,
		AccruedInterest:  interest,
		InterestCarry:    carry,
		RateMode:         ledger.RateMode(m.RateMode),
		FixedRateBps:     m.FixedRateBps,
		OpenedAt:         m.OpenedAt,
		LastAccrual:      m.LastAccrual,
		IsActive:         m.IsActive,
		CloseReason:      ledger.CloseReason(m.CloseReason),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func loanToModel(l *ledger.Loan) *Loan {
	return &Loan{
		ID:               l.ID,
		Owner:            l.Owner,
		CollateralAsset:  l.CollateralAsset,
		CollateralAmount: amountString(l.CollateralAmount),
		BorrowAsset:      l.BorrowAsset,
		Principal:        amountString(l.Principal),
		AccruedInterest:  amountString(l.AccruedInterest),
		InterestCarry:    carryString(l.InterestCarry),
		RateMode:         string(l.RateMode),
		FixedRateBps:     l.FixedRateBps,
		OpenedAt:         l.OpenedAt,
		LastAccrual:      l.LastAccrual,
		IsActive:         l.IsActive,
		CloseReason:      string(l.CloseReason),
	}
}

func depositFromModel(m *Deposit) (*ledger.DepositPosition, error) {
	principal, err := parseAmount("deposit principal", m.Principal)
	if err != nil {
		return nil, err
	}
	yield, err := parseAmount("deposit yield", m.AccruedYield)
	if err != nil {
		return nil, err
	}
	carry, err := parseCarry("deposit carry", m.YieldCarry)
	if err != nil {
		return nil, err
	}
	return &ledger.DepositPosition{
		ID:           m.ID,
		Owner:        m.Owner,
		Asset:        m.Asset,
		Principal:    principal,
		AccruedYield: yield,
		YieldCarry:   carry,
		SuppliedAt:   m.SuppliedAt,
		LastAccrual:  m.LastAccrual,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func depositToModel(d *ledger.DepositPosition) *Deposit {
	return &Deposit{
		ID:           d.ID,
		Owner:        d.Owner,
		Asset:        d.Asset,
		Principal:    amountString(d.Principal),
		AccruedYield: amountString(d.AccruedYield),
		YieldCarry:   carryString(d.YieldCarry),
		SuppliedAt:   d.SuppliedAt,
		LastAccrual:  d.LastAccrual,
	}
}

func poolFromModel(m *Pool) (*ledger.Pool, error) {
	liquidity, err := parseAmount("pool liquidity", m.TotalLiquidity)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseAmount("pool borrowed", m.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	return &ledger.Pool{
		Asset:          m.Asset,
		TotalLiquidity: liquidity,
		TotalBorrowed:  borrowed,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}
