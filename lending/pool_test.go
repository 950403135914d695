package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendflow/ledger"
)

func testPool(liquidity, borrowed int64) *ledger.Pool {
	return &ledger.Pool{
		Asset:          "ETH",
		TotalLiquidity: big.NewInt(liquidity),
		TotalBorrowed:  big.NewInt(borrowed),
	}
}

func TestCurrentRates(t *testing.T) {
	accounting := NewPoolAccounting(exactModel(), 1000)
	rates := accounting.CurrentRates(testPool(100, 50))

	if want := big.NewRat(1, 2); rates.Utilisation.Cmp(want) != 0 {
		t.Fatalf("utilisation = %s, want 1/2", rates.Utilisation.RatString())
	}
	if want := big.NewRat(19, 200); rates.BorrowAPR.Cmp(want) != 0 {
		t.Fatalf("borrow APR = %s, want 19/200", rates.BorrowAPR.RatString())
	}
	wantLend := new(big.Rat).Mul(big.NewRat(19, 200), big.NewRat(1, 2))
	wantLend.Mul(wantLend, big.NewRat(9, 10))
	if rates.LendAPR.Cmp(wantLend) != 0 {
		t.Fatalf("lend APR = %s, want %s", rates.LendAPR.RatString(), wantLend.RatString())
	}
}

func TestCurrentRatesIdlePool(t *testing.T) {
	accounting := NewPoolAccounting(exactModel(), 1000)
	rates := accounting.CurrentRates(testPool(100, 0))

	if rates.Utilisation.Sign() != 0 {
		t.Fatalf("idle utilisation = %s", rates.Utilisation.RatString())
	}
	if want := big.NewRat(1, 50); rates.BorrowAPR.Cmp(want) != 0 {
		t.Fatalf("idle borrow APR = %s, want base rate", rates.BorrowAPR.RatString())
	}
	if rates.LendAPR.Sign() != 0 {
		t.Fatalf("idle lend APR = %s, want 0", rates.LendAPR.RatString())
	}
}

func TestCheckBorrow(t *testing.T) {
	accounting := NewPoolAccounting(exactModel(), 1000)
	pool := testPool(100, 50)

	if err := accounting.CheckBorrow(pool, big.NewInt(50)); err != nil {
		t.Fatalf("borrow at the limit: %v", err)
	}
	if err := accounting.CheckBorrow(pool, big.NewInt(51)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("over-borrow: %v", err)
	}
	if err := accounting.CheckBorrow(pool, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero borrow: %v", err)
	}
	if err := accounting.CheckBorrow(nil, big.NewInt(1)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("missing pool: %v", err)
	}
}

func TestCheckWithdraw(t *testing.T) {
	accounting := NewPoolAccounting(exactModel(), 1000)
	pool := testPool(100, 60)

	if err := accounting.CheckWithdraw(pool, big.NewInt(40)); err != nil {
		t.Fatalf("withdraw free liquidity: %v", err)
	}
	// Funds currently lent out are not withdrawable.
	if err := accounting.CheckWithdraw(pool, big.NewInt(41)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("withdraw beyond free liquidity: %v", err)
	}
}
