package ledger

import (
	"math/big"
	"testing"
	"time"
)

func TestMutationSetOrderAndSigns(t *testing.T) {
	set := NewMutationSet().
		CreditAccount("0xaa", "ETH", big.NewInt(100)).
		DebitAccount("0xaa", "COL", big.NewInt(40)).
		PoolDelta("ETH", big.NewInt(100), nil)

	ops := set.Operations()
	if len(ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(ops))
	}
	if ops[0].Delta.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("credit delta = %s", ops[0].Delta)
	}
	if ops[1].Delta.Cmp(big.NewInt(-40)) != 0 {
		t.Fatalf("debit delta = %s", ops[1].Delta)
	}
	if ops[2].BorrowedDelta != nil {
		t.Fatal("nil borrowed delta should stay nil")
	}
}

func TestMutationSetCopiesAmounts(t *testing.T) {
	amount := big.NewInt(50)
	set := NewMutationSet().CreditAccount("0xaa", "ETH", amount)
	amount.SetInt64(999)

	if got := set.Operations()[0].Delta; got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("caller mutation leaked into set: %s", got)
	}
}

func TestMutationSetPutLoanClones(t *testing.T) {
	loan := &Loan{
		ID:        "loan-1",
		Owner:     "0xaa",
		Principal: big.NewInt(10),
		OpenedAt:  time.Now(),
	}
	set := NewMutationSet().PutLoan(loan)
	loan.Principal.SetInt64(77)

	if got := set.Operations()[0].Loan.Principal; got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("loan mutation leaked into set: %s", got)
	}
}

func TestMutationSetKeys(t *testing.T) {
	set := NewMutationSet().
		CreditAccount("0xaa", "ETH", big.NewInt(1)).
		DebitAccount("0xaa", "COL", big.NewInt(1)).
		PoolDelta("ETH", big.NewInt(1), nil).
		AttachLoan("0xaa", "loan-1")

	keys := set.Keys()
	want := map[string]bool{
		"account:0xaa": true,
		"pool:ETH":     true,
		"loan:loan-1":  true,
	}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %d distinct", keys, len(want))
	}
	for _, key := range keys {
		if !want[key] {
			t.Fatalf("unexpected key %q", key)
		}
	}
}

func TestEmptySet(t *testing.T) {
	if !NewMutationSet().Empty() {
		t.Fatal("fresh set should be empty")
	}
	var nilSet *MutationSet
	if !nilSet.Empty() {
		t.Fatal("nil set should be empty")
	}
	if keys := nilSet.Keys(); keys != nil {
		t.Fatalf("nil set keys = %v", keys)
	}
}
