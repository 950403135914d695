package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"lendflow/chain"
	"lendflow/ledger"
	"lendflow/oracle"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

// memStore is an in-memory ledger.Store for engine tests. Apply mutates a
// deep copy and swaps it in on success, so a failed set leaves no trace.
type memStore struct {
	mu       sync.Mutex
	balances map[string]map[string]*big.Int
	pools    map[string]*ledger.Pool
	loans    map[string]*ledger.Loan
	deposits map[string]*ledger.DepositPosition
	loanIDs  map[string][]string
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[string]map[string]*big.Int),
		pools:    make(map[string]*ledger.Pool),
		loans:    make(map[string]*ledger.Loan),
		deposits: make(map[string]*ledger.DepositPosition),
		loanIDs:  make(map[string][]string),
	}
}

func depositKey(owner, asset string) string { return owner + "|" + asset }

func (m *memStore) GetAccount(_ context.Context, address string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balances, ok := m.balances[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	account := &ledger.Account{Address: address, Balances: make(map[string]*big.Int, len(balances))}
	for asset, amount := range balances {
		account.Balances[asset] = new(big.Int).Set(amount)
	}
	account.LoanIDs = append(account.LoanIDs, m.loanIDs[address]...)
	return account, nil
}

func (m *memStore) GetPool(_ context.Context, asset string) (*ledger.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[asset]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return clonePool(pool), nil
}

func (m *memStore) ListPools(context.Context) ([]*ledger.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pools := make([]*ledger.Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, clonePool(pool))
	}
	return pools, nil
}

func (m *memStore) GetLoan(_ context.Context, id string) (*ledger.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return loan.Clone(), nil
}

func (m *memStore) LoansByOwner(_ context.Context, address string, activeOnly bool) ([]*ledger.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loans []*ledger.Loan
	for _, id := range m.loanIDs[address] {
		loan, ok := m.loans[id]
		if !ok {
			continue
		}
		if activeOnly && !loan.IsActive {
			continue
		}
		loans = append(loans, loan.Clone())
	}
	return loans, nil
}

func (m *memStore) GetDeposit(_ context.Context, address, asset string) (*ledger.DepositPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.deposits[depositKey(address, asset)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return dep.Clone(), nil
}

func (m *memStore) DepositsByOwner(_ context.Context, address string) ([]*ledger.DepositPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deposits []*ledger.DepositPosition
	for _, dep := range m.deposits {
		if dep.Owner == address {
			deposits = append(deposits, dep.Clone())
		}
	}
	return deposits, nil
}

func (m *memStore) EnsurePool(_ context.Context, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[asset]; !ok {
		m.pools[asset] = &ledger.Pool{
			Asset:          asset,
			TotalLiquidity: big.NewInt(0),
			TotalBorrowed:  big.NewInt(0),
		}
	}
	return nil
}

func (m *memStore) Apply(_ context.Context, set *ledger.MutationSet) error {
	if set.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.snapshot()
	for _, op := range set.Operations() {
		switch op.Kind {
		case ledger.MutateAccountBalance:
			balances, ok := next.balances[op.Address]
			if !ok {
				balances = make(map[string]*big.Int)
				next.balances[op.Address] = balances
			}
			amount, ok := balances[op.Asset]
			if !ok {
				amount = big.NewInt(0)
				balances[op.Asset] = amount
			}
			amount.Add(amount, op.Delta)
			if amount.Sign() < 0 {
				return fmt.Errorf("%w: %s %s", ledger.ErrInsufficientBalance, op.Address, op.Asset)
			}
		case ledger.MutatePool:
			pool, ok := next.pools[op.Asset]
			if !ok {
				return ledger.ErrNotFound
			}
			if op.Delta != nil {
				pool.TotalLiquidity.Add(pool.TotalLiquidity, op.Delta)
			}
			if op.BorrowedDelta != nil {
				pool.TotalBorrowed.Add(pool.TotalBorrowed, op.BorrowedDelta)
			}
			if pool.TotalLiquidity.Sign() < 0 || pool.TotalBorrowed.Sign() < 0 {
				return fmt.Errorf("%w: pool %s", ledger.ErrInsufficientBalance, op.Asset)
			}
			if pool.TotalBorrowed.Cmp(pool.TotalLiquidity) > 0 {
				return fmt.Errorf("%w: pool %s", ledger.ErrInvariantViolation, op.Asset)
			}
		case ledger.MutatePutLoan:
			next.loans[op.Loan.ID] = op.Loan.Clone()
		case ledger.MutatePutDeposit:
			next.deposits[depositKey(op.Deposit.Owner, op.Deposit.Asset)] = op.Deposit.Clone()
		case ledger.MutateAttachLoan:
			next.loanIDs[op.Address] = append(next.loanIDs[op.Address], op.LoanID)
			if _, ok := next.balances[op.Address]; !ok {
				next.balances[op.Address] = make(map[string]*big.Int)
			}
		}
	}

	m.balances = next.balances
	m.pools = next.pools
	m.loans = next.loans
	m.deposits = next.deposits
	m.loanIDs = next.loanIDs
	return nil
}

func (m *memStore) snapshot() *memStore {
	next := newMemStore()
	for addr, balances := range m.balances {
		copied := make(map[string]*big.Int, len(balances))
		for asset, amount := range balances {
			copied[asset] = new(big.Int).Set(amount)
		}
		next.balances[addr] = copied
	}
	for asset, pool := range m.pools {
		next.pools[asset] = clonePool(pool)
	}
	for id, loan := range m.loans {
		next.loans[id] = loan.Clone()
	}
	for key, dep := range m.deposits {
		next.deposits[key] = dep.Clone()
	}
	for addr, ids := range m.loanIDs {
		next.loanIDs[addr] = append([]string(nil), ids...)
	}
	return next
}

func clonePool(pool *ledger.Pool) *ledger.Pool {
	return &ledger.Pool{
		Asset:          pool.Asset,
		TotalLiquidity: new(big.Int).Set(pool.TotalLiquidity),
		TotalBorrowed:  new(big.Int).Set(pool.TotalBorrowed),
	}
}

// countingSubmitter records intent submissions so tests can assert that a
// rejected operation never broadcast anything.
type countingSubmitter struct {
	noop  chain.NoopSubmitter
	calls int
}

func (c *countingSubmitter) Submit(ctx context.Context, tx chain.SignedTx) (string, error) {
	c.calls++
	return c.noop.Submit(ctx, tx)
}

func (c *countingSubmitter) Ping(ctx context.Context) error { return c.noop.Ping(ctx) }

// fixture wires an engine against the memory store with a controllable clock
// and price feed.
type fixture struct {
	store  *memStore
	feed   *oracle.StaticFeed
	subs   *countingSubmitter
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		store: newMemStore(),
		feed:  oracle.NewStaticFeed(),
		subs:  &countingSubmitter{},
		now:   time.Unix(1_700_000_000, 0).UTC(),
	}
	ctx := context.Background()
	for _, asset := range []string{"ETH", "COL"} {
		if err := fx.store.EnsurePool(ctx, asset); err != nil {
			t.Fatalf("ensure pool %s: %v", asset, err)
		}
	}
	fx.feed.Set("ETH", big.NewRat(1, 1))
	fx.feed.Set("COL", big.NewRat(1, 1))
	fx.engine = NewEngine(Config{
		Store:     fx.store,
		Risk:      NewRiskEngine(DefaultRiskParameters(), fx.feed),
		Pools:     NewPoolAccounting(exactModel(), 1000),
		Submitter: fx.subs,
		Now:       func() time.Time { return fx.now },
	})
	return fx
}

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

func (fx *fixture) credit(t *testing.T, address, asset string, amount int64) {
	t.Helper()
	if err := fx.engine.CreditBalance(context.Background(), address, asset, big.NewInt(amount)); err != nil {
		t.Fatalf("credit %s %d %s: %v", address, amount, asset, err)
	}
}

func (fx *fixture) seedLiquidity(t *testing.T, supplier, asset string, amount int64) {
	t.Helper()
	fx.credit(t, supplier, asset, amount)
	if _, err := fx.engine.Deposit(context.Background(), DepositRequest{
		Address: supplier,
		Asset:   asset,
		Amount:  big.NewInt(amount),
	}); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
}

func (fx *fixture) openLoan(t *testing.T, mode ledger.RateMode) *ledger.Loan {
	t.Helper()
	fx.credit(t, alice, "COL", 100_000_000)
	result, err := fx.engine.OpenLoan(context.Background(), OpenLoanRequest{
		Address:          alice,
		CollateralAsset:  "COL",
		CollateralAmount: big.NewInt(100_000_000),
		BorrowAsset:      "ETH",
		BorrowAmount:     big.NewInt(50_000_000),
		RateMode:         mode,
	})
	if err != nil {
		t.Fatalf("open loan: %v", err)
	}
	return result.Loan
}

func (fx *fixture) balance(t *testing.T, address, asset string) *big.Int {
	t.Helper()
	account, err := fx.store.GetAccount(context.Background(), address)
	if errors.Is(err, ledger.ErrNotFound) {
		return big.NewInt(0)
	}
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance(asset)
}

func (fx *fixture) pool(t *testing.T, asset string) *ledger.Pool {
	t.Helper()
	pool, err := fx.store.GetPool(context.Background(), asset)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return pool
}

func TestOpenLoanLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)

	if loan.ID == "" || !loan.IsActive {
		t.Fatalf("unexpected loan record: %+v", loan)
	}
	if got := fx.balance(t, alice, "COL"); got.Sign() != 0 {
		t.Fatalf("collateral not debited, COL balance = %s", got)
	}
	if got, want := fx.balance(t, alice, "ETH"), big.NewInt(50_000_000); got.Cmp(want) != 0 {
		t.Fatalf("borrowed not credited, ETH balance = %s", got)
	}
	pool := fx.pool(t, "ETH")
	if pool.TotalBorrowed.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("pool borrowed = %s", pool.TotalBorrowed)
	}
	if pool.TotalLiquidity.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("pool liquidity = %s", pool.TotalLiquidity)
	}

	view, err := fx.engine.Loan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("loan view: %v", err)
	}
	if !view.HealthKnown {
		t.Fatal("health factor should be known")
	}
	if want := big.NewRat(8, 5); view.Health.Ratio.Cmp(want) != 0 {
		t.Fatalf("health factor = %s, want 8/5", view.Health.Ratio.RatString())
	}
}

func TestOpenLoanRiskRejected(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	fx.credit(t, alice, "COL", 100_000_000)

	_, err := fx.engine.OpenLoan(context.Background(), OpenLoanRequest{
		Address:          alice,
		CollateralAsset:  "COL",
		CollateralAmount: big.NewInt(100_000_000),
		BorrowAsset:      "ETH",
		BorrowAmount:     big.NewInt(60_000_000),
	})
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected, got %v", err)
	}
	if got := fx.balance(t, alice, "COL"); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("collateral touched on rejection: %s", got)
	}
	if fx.pool(t, "ETH").TotalBorrowed.Sign() != 0 {
		t.Fatal("pool mutated on rejection")
	}
}

func TestOpenLoanInsufficientLiquidity(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 10_000_000)
	fx.credit(t, alice, "COL", 100_000_000)

	_, err := fx.engine.OpenLoan(context.Background(), OpenLoanRequest{
		Address:          alice,
		CollateralAsset:  "COL",
		CollateralAmount: big.NewInt(100_000_000),
		BorrowAsset:      "ETH",
		BorrowAmount:     big.NewInt(50_000_000),
	})
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestOpenLoanValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.engine.OpenLoan(ctx, OpenLoanRequest{Address: "not-an-address"})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("bad address: %v", err)
	}
	_, err = fx.engine.OpenLoan(ctx, OpenLoanRequest{Address: alice})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil amounts: %v", err)
	}
}

func TestUncoveredDebitNeverBroadcasts(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	ctx := context.Background()

	// Alice pledges collateral she does not hold.
	before := fx.subs.calls
	_, err := fx.engine.OpenLoan(ctx, OpenLoanRequest{
		Address:          alice,
		CollateralAsset:  "COL",
		CollateralAmount: big.NewInt(100_000_000),
		BorrowAsset:      "ETH",
		BorrowAmount:     big.NewInt(50_000_000),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if fx.subs.calls != before {
		t.Fatalf("rejected open loan still broadcast %d intents", fx.subs.calls-before)
	}

	// A repayment the payer cannot cover must not broadcast either, even
	// though it is below the outstanding balance.
	loan := fx.openLoan(t, ledger.RateFloating)
	fx.advance(365 * 24 * time.Hour)
	before = fx.subs.calls
	_, err = fx.engine.Repay(ctx, RepayRequest{Address: alice, LoanID: loan.ID, Amount: big.NewInt(52_000_000)})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if fx.subs.calls != before {
		t.Fatalf("rejected repay still broadcast %d intents", fx.subs.calls-before)
	}
}

func TestAccrualKeepsSubSecondRemainder(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFixed)
	start := loan.LastAccrual
	pool := fx.pool(t, "ETH")

	fx.advance(2500 * time.Millisecond)
	fx.engine.accrueLoan(loan, pool)
	if want := start.Add(2 * time.Second); !loan.LastAccrual.Equal(want) {
		t.Fatalf("last accrual = %s, want %s", loan.LastAccrual, want)
	}

	// The half second left behind joins the next tick instead of vanishing.
	fx.advance(500 * time.Millisecond)
	fx.engine.accrueLoan(loan, pool)
	if want := start.Add(3 * time.Second); !loan.LastAccrual.Equal(want) {
		t.Fatalf("last accrual = %s, want %s", loan.LastAccrual, want)
	}

	// Two ticks over 2s+1s must equal one tick over 3s exactly.
	delta, carry := Accrue(loan.Principal, RateFromBps(loan.FixedRateBps), 3, new(big.Rat))
	if loan.AccruedInterest.Cmp(delta) != 0 {
		t.Fatalf("accrued = %s, want %s", loan.AccruedInterest, delta)
	}
	if loan.InterestCarry.Cmp(carry) != 0 {
		t.Fatalf("carry = %s, want %s", loan.InterestCarry.RatString(), carry.RatString())
	}
}

func TestLoanViewAccrualIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)
	fx.advance(30 * 24 * time.Hour)

	first, err := fx.engine.Loan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("loan view: %v", err)
	}
	second, err := fx.engine.Loan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("loan view: %v", err)
	}
	if first.Outstanding.Cmp(second.Outstanding) != 0 {
		t.Fatalf("repeated view changed outstanding: %s vs %s", first.Outstanding, second.Outstanding)
	}

	// Query accrual is virtual; the stored record still carries the
	// origination timestamp.
	stored, err := fx.store.GetLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if !stored.LastAccrual.Equal(loan.LastAccrual) {
		t.Fatal("query accrual leaked into the store")
	}
}

func TestRepayInterestFirstThenCloses(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	// Fixed mode quotes the pre-borrow utilisation, so the loan locks the 2%
	// base rate: exactly 1,000,000 interest on 50,000,000 over a year.
	loan := fx.openLoan(t, ledger.RateFixed)
	fx.credit(t, alice, "ETH", 5_000_000)
	fx.advance(365 * 24 * time.Hour)
	ctx := context.Background()

	partial, err := fx.engine.Repay(ctx, RepayRequest{Address: alice, LoanID: loan.ID, Amount: big.NewInt(400_000)})
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if partial.InterestPaid.Cmp(big.NewInt(400_000)) != 0 || partial.PrincipalPaid.Sign() != 0 {
		t.Fatalf("split = interest %s principal %s, want interest first", partial.InterestPaid, partial.PrincipalPaid)
	}
	if partial.Loan.Principal.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("principal touched before interest cleared: %s", partial.Loan.Principal)
	}
	if partial.Loan.AccruedInterest.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("remaining interest = %s, want 600000", partial.Loan.AccruedInterest)
	}

	full, err := fx.engine.Repay(ctx, RepayRequest{Address: alice, LoanID: loan.ID, Amount: big.NewInt(50_600_000)})
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if full.Loan.IsActive {
		t.Fatal("loan still active after full repayment")
	}
	if full.Loan.CloseReason != ledger.ReasonRepaid {
		t.Fatalf("close reason = %s", full.Loan.CloseReason)
	}
	if full.CollateralReturned.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("collateral returned = %s", full.CollateralReturned)
	}
	if got := fx.balance(t, alice, "COL"); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("collateral balance = %s", got)
	}

	// Repaid interest funds supplier yield; principal returns to free
	// liquidity.
	pool := fx.pool(t, "ETH")
	if pool.TotalLiquidity.Cmp(big.NewInt(101_000_000)) != 0 {
		t.Fatalf("pool liquidity = %s, want 101000000", pool.TotalLiquidity)
	}
	if pool.TotalBorrowed.Sign() != 0 {
		t.Fatalf("pool borrowed = %s, want 0", pool.TotalBorrowed)
	}
}

func TestRepayThenReopenStartsFresh(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	first := fx.openLoan(t, ledger.RateFixed)
	fx.credit(t, alice, "ETH", 1_000_000)
	fx.advance(365 * 24 * time.Hour)
	ctx := context.Background()

	// Fixed 2% on 50M over a year is exactly 1,000,000 interest.
	if _, err := fx.engine.Repay(ctx, RepayRequest{Address: alice, LoanID: first.ID, Amount: big.NewInt(51_000_000)}); err != nil {
		t.Fatalf("full repay: %v", err)
	}

	second := fx.openLoan(t, ledger.RateFixed)
	if second.ID == first.ID {
		t.Fatalf("reopened loan reused id %s", first.ID)
	}
	if second.AccruedInterest.Sign() != 0 || second.InterestCarry.Sign() != 0 {
		t.Fatalf("new loan carries old interest: %s carry %s", second.AccruedInterest, second.InterestCarry.RatString())
	}
	if !second.OpenedAt.Equal(fx.now) || !second.LastAccrual.Equal(fx.now) {
		t.Fatalf("accrual window not reset: opened %s last %s, want %s", second.OpenedAt, second.LastAccrual, fx.now)
	}

	view, err := fx.engine.Loan(ctx, second.ID)
	if err != nil {
		t.Fatalf("loan view: %v", err)
	}
	if view.Outstanding.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("fresh loan outstanding = %s, want bare principal", view.Outstanding)
	}
}

func TestRepayRejectsOverpayment(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFixed)
	fx.credit(t, alice, "ETH", 20_000_000)
	fx.advance(365 * 24 * time.Hour)

	_, err := fx.engine.Repay(context.Background(), RepayRequest{
		Address: alice,
		LoanID:  loan.ID,
		Amount:  big.NewInt(60_000_000),
	})
	if !errors.Is(err, ErrOverRepayment) {
		t.Fatalf("expected ErrOverRepayment, got %v", err)
	}
	if got := fx.balance(t, alice, "ETH"); got.Cmp(big.NewInt(70_000_000)) != 0 {
		t.Fatalf("balance changed on rejected repay: %s", got)
	}
}

func TestRepayForeignLoanHidden(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)
	fx.credit(t, carol, "ETH", 10_000_000)

	_, err := fx.engine.Repay(context.Background(), RepayRequest{
		Address: carol,
		LoanID:  loan.ID,
		Amount:  big.NewInt(1_000_000),
	})
	if !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("foreign loan should be reported missing, got %v", err)
	}
}

func TestLiquidationSeizesCollateral(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)
	fx.credit(t, carol, "ETH", 60_000_000)

	// Doubling the debt price drops the health factor to 0.8.
	fx.feed.Set("ETH", big.NewRat(2, 1))

	result, err := fx.engine.Liquidate(context.Background(), LiquidateRequest{
		Liquidator: carol,
		LoanID:     loan.ID,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Repaid.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("repaid = %s, want 50000000", result.Repaid)
	}
	// Bonus-inflated claim (105M) caps at the pledged collateral.
	if result.Seized.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("seized = %s, want 100000000", result.Seized)
	}
	if result.Loan.IsActive || result.Loan.CloseReason != ledger.ReasonLiquidated {
		t.Fatalf("loan not closed as liquidated: %+v", result.Loan)
	}
	if got := fx.balance(t, carol, "ETH"); got.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("liquidator ETH = %s, want 10000000", got)
	}
	if got := fx.balance(t, carol, "COL"); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("liquidator COL = %s, want 100000000", got)
	}
	if fx.pool(t, "ETH").TotalBorrowed.Sign() != 0 {
		t.Fatal("pool still shows borrowed principal")
	}
}

func TestLiquidateHealthyLoanRejected(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)
	fx.credit(t, carol, "ETH", 60_000_000)

	_, err := fx.engine.Liquidate(context.Background(), LiquidateRequest{
		Liquidator: carol,
		LoanID:     loan.ID,
	})
	if !errors.Is(err, ErrNotEligibleForLiquidation) {
		t.Fatalf("expected ErrNotEligibleForLiquidation, got %v", err)
	}
}

func TestLiquidateClosedLoanRejected(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	loan := fx.openLoan(t, ledger.RateFloating)
	ctx := context.Background()

	if _, err := fx.engine.Repay(ctx, RepayRequest{Address: alice, LoanID: loan.ID, Amount: big.NewInt(50_000_000)}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	fx.feed.Set("ETH", big.NewRat(2, 1))
	fx.credit(t, carol, "ETH", 60_000_000)

	_, err := fx.engine.Liquidate(ctx, LiquidateRequest{Liquidator: carol, LoanID: loan.ID})
	if !errors.Is(err, ErrLoanClosed) {
		t.Fatalf("expected ErrLoanClosed, got %v", err)
	}
}

func TestWithdrawLiquidityLimitedToFreeLiquidity(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	fx.openLoan(t, ledger.RateFloating)
	ctx := context.Background()

	before := fx.pool(t, "ETH")
	_, err := fx.engine.WithdrawLiquidity(ctx, WithdrawRequest{
		Address: bob,
		Asset:   "ETH",
		Amount:  big.NewInt(60_000_000),
	})
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	after := fx.pool(t, "ETH")
	if before.TotalLiquidity.Cmp(after.TotalLiquidity) != 0 || before.TotalBorrowed.Cmp(after.TotalBorrowed) != 0 {
		t.Fatal("failed withdrawal mutated the pool")
	}

	result, err := fx.engine.WithdrawLiquidity(ctx, WithdrawRequest{
		Address: bob,
		Asset:   "ETH",
		Amount:  big.NewInt(50_000_000),
	})
	if err != nil {
		t.Fatalf("withdraw free liquidity: %v", err)
	}
	if result.Position.Principal.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("remaining principal = %s", result.Position.Principal)
	}
	if got := fx.balance(t, bob, "ETH"); got.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("withdrawn funds not credited: %s", got)
	}
}

func TestDepositAccruesYield(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	fx.openLoan(t, ledger.RateFloating)
	fx.credit(t, bob, "ETH", 1_000_000)
	fx.advance(365 * 24 * time.Hour)

	// Lend APR at 50% utilisation with a 10% reserve: 0.095 * 0.5 * 0.9 =
	// 171/4000, earning exactly 4,275,000 on 100M over the year.
	result, err := fx.engine.Deposit(context.Background(), DepositRequest{
		Address: bob,
		Asset:   "ETH",
		Amount:  big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if result.Position.AccruedYield.Cmp(big.NewInt(4_275_000)) != 0 {
		t.Fatalf("accrued yield = %s, want 4275000", result.Position.AccruedYield)
	}
	if result.Position.Principal.Cmp(big.NewInt(101_000_000)) != 0 {
		t.Fatalf("principal = %s, want 101000000", result.Position.Principal)
	}
}

func TestWithdrawFromUnknownDeposit(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.engine.WithdrawLiquidity(context.Background(), WithdrawRequest{
		Address: bob,
		Asset:   "ETH",
		Amount:  big.NewInt(1),
	})
	if !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound, got %v", err)
	}
}

func TestCreditBalanceValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.engine.CreditBalance(ctx, "bogus", "ETH", big.NewInt(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("bad address: %v", err)
	}
	if err := fx.engine.CreditBalance(ctx, alice, "ETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
}

func TestAccountSummary(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	fx.openLoan(t, ledger.RateFloating)
	ctx := context.Background()

	summary, err := fx.engine.AccountSummary(ctx, alice)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got := summary.TotalBorrowed["ETH"]; got == nil || got.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("total borrowed ETH = %s", got)
	}
	if len(summary.ActiveLoans) != 1 {
		t.Fatalf("active loans = %d", len(summary.ActiveLoans))
	}

	lender, err := fx.engine.AccountSummary(ctx, bob)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got := lender.TotalLent["ETH"]; got == nil || got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("total lent ETH = %s", got)
	}

	unseen, err := fx.engine.AccountSummary(ctx, carol)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(unseen.TotalBorrowed) != 0 || len(unseen.TotalLent) != 0 || len(unseen.ActiveLoans) != 0 {
		t.Fatalf("unseen address summary not zero: %+v", unseen)
	}
}

func TestPoolsView(t *testing.T) {
	fx := newFixture(t)
	fx.seedLiquidity(t, bob, "ETH", 100_000_000)
	fx.openLoan(t, ledger.RateFloating)

	views, err := fx.engine.Pools(context.Background())
	if err != nil {
		t.Fatalf("pools: %v", err)
	}
	var eth *PoolView
	for i := range views {
		if views[i].Asset == "ETH" {
			eth = &views[i]
		}
	}
	if eth == nil {
		t.Fatal("ETH pool missing from view")
	}
	if want := big.NewRat(1, 2); eth.Utilisation.Cmp(want) != 0 {
		t.Fatalf("utilisation = %s, want 1/2", eth.Utilisation.RatString())
	}
	if want := big.NewRat(19, 200); eth.BorrowAPR.Cmp(want) != 0 {
		t.Fatalf("borrow APR = %s, want 19/200", eth.BorrowAPR.RatString())
	}
}
