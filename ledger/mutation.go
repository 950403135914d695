package ledger

import "math/big"

// MutationKind discriminates the operations inside a mutation set.
type MutationKind string

const (
	// MutateAccountBalance applies a signed delta to one account balance.
	MutateAccountBalance MutationKind = "account_balance"
	// MutatePool applies signed deltas to a pool's liquidity and borrowed
	// totals.
	MutatePool MutationKind = "pool"
	// MutatePutLoan upserts a full loan record.
	MutatePutLoan MutationKind = "put_loan"
	// MutatePutDeposit upserts a full deposit position record.
	MutatePutDeposit MutationKind = "put_deposit"
	// MutateAttachLoan links a loan id to an account's loan list.
	MutateAttachLoan MutationKind = "attach_loan"
)

// Mutation is one entry of a mutation set. Exactly the fields relevant to its
// kind are populated.
type Mutation struct {
	Kind MutationKind

	Address string
	Asset   string
	// Delta is the signed balance change for account and pool liquidity
	// mutations.
	Delta *big.Int
	// BorrowedDelta is the signed change to a pool's total borrowed.
	BorrowedDelta *big.Int

	Loan    *Loan
	Deposit *DepositPosition
	LoanID  string
}

// MutationSet is an ordered list of mutations committed atomically: either
// every entry applies or none do. Order matters; deltas are checked against
// the running state, not the initial one.
type MutationSet struct {
	ops []Mutation
}

// NewMutationSet returns an empty set.
func NewMutationSet() *MutationSet {
	return &MutationSet{}
}

// CreditAccount appends a positive balance delta for (address, asset).
func (m *MutationSet) CreditAccount(address, asset string, amount *big.Int) *MutationSet {
	return m.accountDelta(address, asset, copyInt(amount))
}

// DebitAccount appends a negative balance delta for (address, asset).
func (m *MutationSet) DebitAccount(address, asset string, amount *big.Int) *MutationSet {
	delta := copyInt(amount)
	if delta != nil {
		delta.Neg(delta)
	}
	return m.accountDelta(address, asset, delta)
}

func (m *MutationSet) accountDelta(address, asset string, delta *big.Int) *MutationSet {
	m.ops = append(m.ops, Mutation{
		Kind:    MutateAccountBalance,
		Address: address,
		Asset:   asset,
		Delta:   delta,
	})
	return m
}

// PoolDelta appends signed changes to a pool's liquidity and borrowed totals.
// Either delta may be nil for no change.
func (m *MutationSet) PoolDelta(asset string, liquidityDelta, borrowedDelta *big.Int) *MutationSet {
	m.ops = append(m.ops, Mutation{
		Kind:          MutatePool,
		Asset:         asset,
		Delta:         copyInt(liquidityDelta),
		BorrowedDelta: copyInt(borrowedDelta),
	})
	return m
}

// PutLoan appends a full-record loan upsert.
func (m *MutationSet) PutLoan(loan *Loan) *MutationSet {
	m.ops = append(m.ops, Mutation{Kind: MutatePutLoan, Loan: loan.Clone()})
	return m
}

// PutDeposit appends a full-record deposit upsert.
func (m *MutationSet) PutDeposit(dep *DepositPosition) *MutationSet {
	m.ops = append(m.ops, Mutation{Kind: MutatePutDeposit, Deposit: dep.Clone()})
	return m
}

// AttachLoan appends a link from an account to a loan id.
func (m *MutationSet) AttachLoan(address, loanID string) *MutationSet {
	m.ops = append(m.ops, Mutation{Kind: MutateAttachLoan, Address: address, LoanID: loanID})
	return m
}

// Operations returns the ordered entries.
func (m *MutationSet) Operations() []Mutation {
	if m == nil {
		return nil
	}
	return m.ops
}

// Empty reports whether the set contains no operations.
func (m *MutationSet) Empty() bool {
	return m == nil || len(m.ops) == 0
}

// Keys returns the serialization keys the set touches: one per account, pool,
// and loan. Two sets sharing a key must not commit concurrently.
func (m *MutationSet) Keys() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(m.ops))
	keys := make([]string, 0, len(m.ops))
	add := func(key string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, op := range m.ops {
		switch op.Kind {
		case MutateAccountBalance:
			add("account:" + op.Address)
		case MutatePool:
			add("pool:" + op.Asset)
		case MutatePutLoan:
			if op.Loan != nil {
				add("loan:" + op.Loan.ID)
			}
		case MutatePutDeposit:
			if op.Deposit != nil {
				add("deposit:" + op.Deposit.ID)
			}
		case MutateAttachLoan:
			add("account:" + op.Address)
			add("loan:" + op.LoanID)
		}
	}
	return keys
}
