package lending

import (
	"math/big"
	"testing"
)

func exactModel() *InterestModel {
	return &InterestModel{
		BaseRate: big.NewRat(1, 50),  // 2%
		Slope1:   big.NewRat(3, 20),  // 15%
		Slope2:   big.NewRat(3, 5),   // 60%
		Kink:     big.NewRat(4, 5),   // 80%
	}
}

func TestBorrowAPRCurve(t *testing.T) {
	model := exactModel()
	cases := []struct {
		name        string
		utilisation *big.Rat
		want        *big.Rat
	}{
		{"zero", new(big.Rat), big.NewRat(1, 50)},
		{"below kink", big.NewRat(1, 2), big.NewRat(19, 200)},   // 0.02 + 0.15*0.5
		{"at kink", big.NewRat(4, 5), big.NewRat(7, 50)},        // 0.02 + 0.15*0.8
		{"above kink", big.NewRat(9, 10), big.NewRat(1, 5)},     // 0.14 + 0.6*0.1
		{"full", big.NewRat(1, 1), big.NewRat(13, 50)},          // 0.14 + 0.6*0.2
	}
	for _, tc := range cases {
		got := model.BorrowAPR(tc.utilisation)
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("%s: borrow APR = %s, want %s", tc.name, got.RatString(), tc.want.RatString())
		}
	}
}

func TestLendAPRWithholdsReserve(t *testing.T) {
	model := exactModel()
	utilisation := big.NewRat(1, 2)
	borrow := model.BorrowAPR(utilisation)

	lend := model.LendAPR(utilisation, 1000)
	want := new(big.Rat).Mul(borrow, utilisation)
	want.Mul(want, big.NewRat(9, 10))
	if lend.Cmp(want) != 0 {
		t.Fatalf("lend APR = %s, want %s", lend.RatString(), want.RatString())
	}
	if lend.Cmp(borrow) >= 0 {
		t.Fatalf("lend APR %s not below borrow APR %s", lend.RatString(), borrow.RatString())
	}

	if got := model.LendAPR(new(big.Rat), 1000); got.Sign() != 0 {
		t.Fatalf("idle pool lend APR = %s, want 0", got.RatString())
	}
}

func TestUtilisationEdgeCases(t *testing.T) {
	if got := Utilisation(big.NewInt(0), big.NewInt(100)); got.Sign() != 0 {
		t.Fatalf("zero borrowed utilisation = %s", got.RatString())
	}
	if got := Utilisation(big.NewInt(10), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("empty pool utilisation = %s", got.RatString())
	}
	want := big.NewRat(1, 2)
	if got := Utilisation(big.NewInt(50), big.NewInt(100)); got.Cmp(want) != 0 {
		t.Fatalf("utilisation = %s, want 1/2", got.RatString())
	}
}

func TestAccrueFullYear(t *testing.T) {
	principal := big.NewInt(50_000_000)
	rate := RateFromBps(950)

	delta, carry := Accrue(principal, rate, secondsPerYear, nil)
	if want := big.NewInt(4_750_000); delta.Cmp(want) != 0 {
		t.Fatalf("delta = %s, want %s", delta, want)
	}
	if carry.Sign() != 0 {
		t.Fatalf("carry = %s, want 0", carry.RatString())
	}
}

func TestAccrueCarryNeverLeaksValue(t *testing.T) {
	// 10 units at 5% over a quarter year earn exactly 0.125 per tick; eight
	// ticks must sum to exactly 1 with the carry draining back to zero.
	principal := big.NewInt(10)
	rate := RateFromBps(500)
	elapsed := uint64(secondsPerYear / 4)

	total := big.NewInt(0)
	carry := new(big.Rat)
	for i := 0; i < 8; i++ {
		var delta *big.Int
		delta, carry = Accrue(principal, rate, elapsed, carry)
		if delta.Sign() < 0 {
			t.Fatalf("tick %d: negative delta %s", i, delta)
		}
		total.Add(total, delta)
	}
	if want := big.NewInt(1); total.Cmp(want) != 0 {
		t.Fatalf("total accrued = %s, want %s", total, want)
	}
	if carry.Sign() != 0 {
		t.Fatalf("final carry = %s, want 0", carry.RatString())
	}
}

func TestAccrueZeroElapsedKeepsCarry(t *testing.T) {
	carry := big.NewRat(1, 3)
	delta, newCarry := Accrue(big.NewInt(1000), RateFromBps(500), 0, carry)
	if delta.Sign() != 0 {
		t.Fatalf("delta = %s, want 0", delta)
	}
	if newCarry.Cmp(carry) != 0 {
		t.Fatalf("carry changed: %s", newCarry.RatString())
	}
}

func TestAccrueZeroPrincipal(t *testing.T) {
	delta, carry := Accrue(big.NewInt(0), RateFromBps(500), secondsPerYear, nil)
	if delta.Sign() != 0 || carry.Sign() != 0 {
		t.Fatalf("zero principal accrued delta=%s carry=%s", delta, carry.RatString())
	}
}

func TestRateFromBps(t *testing.T) {
	if got, want := RateFromBps(950), big.NewRat(19, 200); got.Cmp(want) != 0 {
		t.Fatalf("950 bps = %s, want %s", got.RatString(), want.RatString())
	}
	if got := RateFromBps(0); got.Sign() != 0 {
		t.Fatalf("0 bps = %s", got.RatString())
	}
}
