package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendflow/chain"
	"lendflow/ledger"
)

// Engine orchestrates the loan lifecycle: it consults the risk engine on
// freshly accrued state, then mutates the ledger and pool accounting through
// a single atomic mutation set per business action. Operations touching the
// same account, pool or loan serialize on the engine's keyed locks; disjoint
// operations run in parallel.
type Engine struct {
	store     ledger.Store
	risk      *RiskEngine
	pools     *PoolAccounting
	validator chain.AddressValidator
	submitter chain.Submitter
	locks     *ledger.KeyedLocks
	logger    *slog.Logger
	now       func() time.Time
}

// Config wires the engine's collaborators. Store, Risk and Pools are
// required; the rest default to safe implementations.
type Config struct {
	Store     ledger.Store
	Risk      *RiskEngine
	Pools     *PoolAccounting
	Validator chain.AddressValidator
	Submitter chain.Submitter
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewEngine constructs the lifecycle controller.
func NewEngine(cfg Config) *Engine {
	validator := cfg.Validator
	if validator == nil {
		validator = chain.NewHexValidator()
	}
	var submitter chain.Submitter = cfg.Submitter
	if submitter == nil {
		submitter = chain.NoopSubmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		risk:      cfg.Risk,
		pools:     cfg.Pools,
		validator: validator,
		submitter: submitter,
		locks:     ledger.NewKeyedLocks(64),
		logger:    logger,
		now:       now,
	}
}

// CreditBalance records an observed inbound transfer for an address, creating
// the account on first interaction. It is the settlement entry point; user
// facing flows never mint balances.
func (e *Engine) CreditBalance(ctx context.Context, address, asset string, amount *big.Int) error {
	addr, err := e.normalize(address)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	asset = normalizeAsset(asset)

	set := ledger.NewMutationSet().CreditAccount(addr, asset, amount)
	unlock := e.locks.Lock(set.Keys())
	defer unlock()
	return e.apply(ctx, "credit_balance", set)
}

// OpenLoan validates a proposed loan through the risk engine and, on success,
// atomically debits collateral, credits the borrowed amount and creates the
// loan record.
func (e *Engine) OpenLoan(ctx context.Context, req OpenLoanRequest) (*OpenLoanResult, error) {
	addr, err := e.normalize(req.Address)
	if err != nil {
		return nil, err
	}
	if req.CollateralAmount == nil || req.CollateralAmount.Sign() <= 0 ||
		req.BorrowAmount == nil || req.BorrowAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	collateralAsset := normalizeAsset(req.CollateralAsset)
	borrowAsset := normalizeAsset(req.BorrowAsset)
	rateMode := req.RateMode
	if rateMode == "" {
		rateMode = ledger.RateFloating
	}
	if rateMode != ledger.RateFixed && rateMode != ledger.RateFloating {
		return nil, fmt.Errorf("lending: unknown rate mode %q", req.RateMode)
	}

	unlock := e.locks.Lock([]string{"account:" + addr, "pool:" + borrowAsset})
	defer unlock()

	pool, err := e.loadPool(ctx, borrowAsset)
	if err != nil {
		return nil, err
	}
	if err := e.pools.CheckBorrow(pool, req.BorrowAmount); err != nil {
		return nil, err
	}

	ok, err := e.risk.CanBorrow(ctx, collateralAsset, req.CollateralAmount, borrowAsset, req.BorrowAmount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRiskRejected
	}

	now := e.now().UTC()
	loan := &ledger.Loan{
		ID:               uuid.NewString(),
		Owner:            addr,
		CollateralAsset:  collateralAsset,
		CollateralAmount: new(big.Int).Set(req.CollateralAmount),
		BorrowAsset:      borrowAsset,
		Principal:        new(big.Int).Set(req.BorrowAmount),
		AccruedInterest:  big.NewInt(0),
		InterestCarry:    new(big.Rat),
		RateMode:         rateMode,
		OpenedAt:         now,
		LastAccrual:      now,
		IsActive:         true,
	}
	if rateMode == ledger.RateFixed {
		loan.FixedRateBps = ratToBps(e.pools.BorrowRate(pool))
	}

	if err := e.ensureBalance(ctx, addr, collateralAsset, req.CollateralAmount); err != nil {
		return nil, err
	}
	txHash, err := e.submit(ctx, "open_loan", map[string]string{
		"address":    addr,
		"loan_id":    loan.ID,
		"collateral": collateralAsset,
		"borrow":     borrowAsset,
	})
	if err != nil {
		return nil, err
	}

	set := ledger.NewMutationSet().
		DebitAccount(addr, collateralAsset, req.CollateralAmount).
		CreditAccount(addr, borrowAsset, req.BorrowAmount).
		PoolDelta(borrowAsset, nil, req.BorrowAmount).
		PutLoan(loan).
		AttachLoan(addr, loan.ID)
	if err := e.apply(ctx, "open_loan", set); err != nil {
		return nil, err
	}
	return &OpenLoanResult{Loan: loan, TxHash: txHash}, nil
}

// Repay applies amount to a loan, interest before principal. Repaying the
// full outstanding balance closes the loan and returns the collateral in the
// same mutation set. Amounts above the outstanding balance are rejected, not
// clamped.
func (e *Engine) Repay(ctx context.Context, req RepayRequest) (*RepayResult, error) {
	addr, err := e.normalize(req.Address)
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	loanID := strings.TrimSpace(req.LoanID)
	if loanID == "" {
		return nil, ErrLoanNotFound
	}

	// Peek the loan to learn its pool, then take every key in one lock call;
	// the stripes must be acquired together to stay deadlock free.
	peek, err := e.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.Lock([]string{"loan:" + loanID, "account:" + addr, "pool:" + peek.BorrowAsset})
	defer unlock()

	loan, err := e.loadOwnedLoan(ctx, loanID, addr)
	if err != nil {
		return nil, err
	}

	pool, err := e.loadPool(ctx, loan.BorrowAsset)
	if err != nil {
		return nil, err
	}
	e.accrueLoan(loan, pool)

	outstanding := loan.Outstanding()
	if req.Amount.Cmp(outstanding) > 0 {
		return nil, ErrOverRepayment
	}

	interestPaid := new(big.Int).Set(loan.AccruedInterest)
	if interestPaid.Cmp(req.Amount) > 0 {
		interestPaid.Set(req.Amount)
	}
	principalPaid := new(big.Int).Sub(req.Amount, interestPaid)

	loan.AccruedInterest = new(big.Int).Sub(loan.AccruedInterest, interestPaid)
	loan.Principal = new(big.Int).Sub(loan.Principal, principalPaid)

	set := ledger.NewMutationSet().
		DebitAccount(addr, loan.BorrowAsset, req.Amount).
		PoolDelta(loan.BorrowAsset, interestPaid, new(big.Int).Neg(principalPaid))

	collateralReturned := big.NewInt(0)
	if loan.Outstanding().Sign() == 0 {
		loan.IsActive = false
		loan.CloseReason = ledger.ReasonRepaid
		loan.InterestCarry = new(big.Rat)
		if loan.CollateralAmount.Sign() > 0 {
			collateralReturned = new(big.Int).Set(loan.CollateralAmount)
			set.CreditAccount(addr, loan.CollateralAsset, collateralReturned)
			loan.CollateralAmount = big.NewInt(0)
		}
	}
	set.PutLoan(loan)

	if err := e.ensureBalance(ctx, addr, loan.BorrowAsset, req.Amount); err != nil {
		return nil, err
	}
	txHash, err := e.submit(ctx, "repay", map[string]string{
		"address": addr,
		"loan_id": loan.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, "repay", set); err != nil {
		return nil, err
	}
	return &RepayResult{
		Loan:               loan,
		InterestPaid:       interestPaid,
		PrincipalPaid:      principalPaid,
		CollateralReturned: collateralReturned,
		TxHash:             txHash,
	}, nil
}

// Liquidate forcibly closes a loan whose health factor has fallen below 1.
// The liquidator covers the outstanding debt from their tracked balance and
// receives the seized collateral with the configured bonus; any remainder
// returns to the borrower.
func (e *Engine) Liquidate(ctx context.Context, req LiquidateRequest) (*LiquidateResult, error) {
	liquidator, err := e.normalize(req.Liquidator)
	if err != nil {
		return nil, err
	}
	loanID := strings.TrimSpace(req.LoanID)
	if loanID == "" {
		return nil, ErrLoanNotFound
	}

	peek, err := e.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.Lock([]string{
		"loan:" + loanID,
		"account:" + liquidator,
		"account:" + peek.Owner,
		"pool:" + peek.BorrowAsset,
	})
	defer unlock()

	loan, err := e.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive {
		return nil, ErrLoanClosed
	}

	pool, err := e.loadPool(ctx, loan.BorrowAsset)
	if err != nil {
		return nil, err
	}
	e.accrueLoan(loan, pool)

	health, err := e.risk.HealthFactorFor(ctx, loan)
	if err != nil {
		return nil, err
	}
	if !health.Liquidatable() {
		return nil, ErrNotEligibleForLiquidation
	}

	seize, err := e.risk.SeizeAmount(ctx, loan)
	if err != nil {
		return nil, err
	}
	repaid := loan.Outstanding()
	interestPortion := new(big.Int).Set(loan.AccruedInterest)
	principalPortion := new(big.Int).Set(loan.Principal)
	remainder := new(big.Int).Sub(loan.CollateralAmount, seize)

	owner := loan.Owner
	loan.Principal = big.NewInt(0)
	loan.AccruedInterest = big.NewInt(0)
	loan.InterestCarry = new(big.Rat)
	loan.CollateralAmount = big.NewInt(0)
	loan.IsActive = false
	loan.CloseReason = ledger.ReasonLiquidated

	set := ledger.NewMutationSet().
		DebitAccount(liquidator, loan.BorrowAsset, repaid).
		PoolDelta(loan.BorrowAsset, interestPortion, new(big.Int).Neg(principalPortion)).
		CreditAccount(liquidator, loan.CollateralAsset, seize)
	if remainder.Sign() > 0 {
		set.CreditAccount(owner, loan.CollateralAsset, remainder)
	}
	set.PutLoan(loan)

	if err := e.ensureBalance(ctx, liquidator, loan.BorrowAsset, repaid); err != nil {
		return nil, err
	}
	txHash, err := e.submit(ctx, "liquidate", map[string]string{
		"liquidator": liquidator,
		"loan_id":    loan.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, "liquidate", set); err != nil {
		return nil, err
	}
	return &LiquidateResult{Loan: loan, Repaid: repaid, Seized: seize, TxHash: txHash}, nil
}

// Deposit supplies liquidity to a pool from the account's tracked balance and
// updates the caller's deposit position, accruing any pending yield first.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	addr, err := e.normalize(req.Address)
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	asset := normalizeAsset(req.Asset)

	unlock := e.locks.Lock([]string{"account:" + addr, "pool:" + asset})
	defer unlock()

	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return nil, err
	}

	position, err := e.store.GetDeposit(ctx, addr, asset)
	now := e.now().UTC()
	switch {
	case err == nil:
		e.accrueDeposit(position, pool)
		position.Principal = new(big.Int).Add(position.Principal, req.Amount)
	case errors.Is(err, ledger.ErrNotFound):
		position = &ledger.DepositPosition{
			ID:           uuid.NewString(),
			Owner:        addr,
			Asset:        asset,
			Principal:    new(big.Int).Set(req.Amount),
			AccruedYield: big.NewInt(0),
			YieldCarry:   new(big.Rat),
			SuppliedAt:   now,
			LastAccrual:  now,
		}
	default:
		return nil, err
	}

	set := ledger.NewMutationSet().
		DebitAccount(addr, asset, req.Amount).
		PoolDelta(asset, req.Amount, nil).
		PutDeposit(position)

	if err := e.ensureBalance(ctx, addr, asset, req.Amount); err != nil {
		return nil, err
	}
	txHash, err := e.submit(ctx, "provide_liquidity", map[string]string{
		"address": addr,
		"asset":   asset,
	})
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, "deposit", set); err != nil {
		return nil, err
	}
	return &DepositResult{Position: position, TxHash: txHash}, nil
}

// WithdrawLiquidity removes supplied liquidity, yield first, rejecting
// withdrawals that exceed either the caller's position or the pool's free
// liquidity. A full withdrawal zeroes the position without deleting it.
func (e *Engine) WithdrawLiquidity(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	addr, err := e.normalize(req.Address)
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	asset := normalizeAsset(req.Asset)

	unlock := e.locks.Lock([]string{"account:" + addr, "pool:" + asset})
	defer unlock()

	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	position, err := e.store.GetDeposit(ctx, addr, asset)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}

	e.accrueDeposit(position, pool)
	if req.Amount.Cmp(position.Total()) > 0 {
		return nil, ledger.ErrInsufficientBalance
	}
	if err := e.pools.CheckWithdraw(pool, req.Amount); err != nil {
		return nil, err
	}

	yieldPaid := new(big.Int).Set(position.AccruedYield)
	if yieldPaid.Cmp(req.Amount) > 0 {
		yieldPaid.Set(req.Amount)
	}
	principalPaid := new(big.Int).Sub(req.Amount, yieldPaid)
	position.AccruedYield = new(big.Int).Sub(position.AccruedYield, yieldPaid)
	position.Principal = new(big.Int).Sub(position.Principal, principalPaid)
	if position.Total().Sign() == 0 {
		position.YieldCarry = new(big.Rat)
	}

	set := ledger.NewMutationSet().
		PoolDelta(asset, new(big.Int).Neg(req.Amount), nil).
		CreditAccount(addr, asset, req.Amount).
		PutDeposit(position)

	txHash, err := e.submit(ctx, "withdraw_liquidity", map[string]string{
		"address": addr,
		"asset":   asset,
	})
	if err != nil {
		return nil, err
	}
	if err := e.apply(ctx, "withdraw", set); err != nil {
		return nil, err
	}
	return &WithdrawResult{Position: position, TxHash: txHash}, nil
}

// Pools returns every pool with its derived rate snapshot.
func (e *Engine) Pools(ctx context.Context) ([]PoolView, error) {
	pools, err := e.store.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PoolView, 0, len(pools))
	for _, pool := range pools {
		rates := e.pools.CurrentRates(pool)
		views = append(views, PoolView{
			Asset:          pool.Asset,
			TotalLiquidity: pool.TotalLiquidity,
			TotalBorrowed:  pool.TotalBorrowed,
			Utilisation:    rates.Utilisation,
			BorrowAPR:      rates.BorrowAPR,
			LendAPR:        rates.LendAPR,
		})
	}
	return views, nil
}

// Loan returns a loan with its virtually accrued outstanding balance and
// health factor. The stored record is not mutated; accrual commits only on
// mutating operations.
func (e *Engine) Loan(ctx context.Context, loanID string) (*LoanView, error) {
	loan, err := e.loadLoan(ctx, strings.TrimSpace(loanID))
	if err != nil {
		return nil, err
	}
	if loan.IsActive {
		pool, err := e.loadPool(ctx, loan.BorrowAsset)
		if err != nil {
			return nil, err
		}
		e.accrueLoan(loan, pool)
	}
	view := &LoanView{Loan: loan, Outstanding: loan.Outstanding()}
	health, err := e.risk.HealthFactorFor(ctx, loan)
	if err == nil {
		view.Health = health
		view.HealthKnown = true
	}
	return view, nil
}

// AccountSummary aggregates an address's balances, debt and supplied
// liquidity. Unseen addresses produce an all-zero summary.
func (e *Engine) AccountSummary(ctx context.Context, address string) (*AccountSummary, error) {
	addr, err := e.normalize(address)
	if err != nil {
		return nil, err
	}
	summary := &AccountSummary{
		Address:       addr,
		Balances:      map[string]*big.Int{},
		TotalBorrowed: map[string]*big.Int{},
		TotalLent:     map[string]*big.Int{},
	}

	account, err := e.store.GetAccount(ctx, addr)
	switch {
	case err == nil:
		summary.Balances = account.Balances
	case errors.Is(err, ledger.ErrNotFound):
		return summary, nil
	default:
		return nil, err
	}

	loans, err := e.store.LoansByOwner(ctx, addr, true)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if pool, poolErr := e.loadPool(ctx, loan.BorrowAsset); poolErr == nil {
			e.accrueLoan(loan, pool)
		}
		addAmount(summary.TotalBorrowed, loan.BorrowAsset, loan.Outstanding())
	}
	summary.ActiveLoans = loans

	deposits, err := e.store.DepositsByOwner(ctx, addr)
	if err != nil {
		return nil, err
	}
	for _, dep := range deposits {
		if pool, poolErr := e.loadPool(ctx, dep.Asset); poolErr == nil {
			e.accrueDeposit(dep, pool)
		}
		addAmount(summary.TotalLent, dep.Asset, dep.Total())
	}
	return summary, nil
}

// PingChain reports node connectivity for health checks.
func (e *Engine) PingChain(ctx context.Context) error {
	return e.submitter.Ping(ctx)
}

// accrueLoan folds the interest earned since the loan's last accrual into its
// accumulator. Floating loans reprice from the pool's current utilisation;
// fixed loans keep their quoted rate. Idempotent for an unchanged clock.
func (e *Engine) accrueLoan(loan *ledger.Loan, pool *ledger.Pool) {
	if loan == nil || !loan.IsActive {
		return
	}
	now := e.now().UTC()
	elapsed := elapsedSeconds(loan.LastAccrual, now)
	if elapsed == 0 {
		return
	}
	var rate *big.Rat
	if loan.RateMode == ledger.RateFixed {
		rate = RateFromBps(loan.FixedRateBps)
	} else {
		rate = e.pools.BorrowRate(pool)
	}
	delta, carry := Accrue(loan.Principal, rate, elapsed, loan.InterestCarry)
	loan.AccruedInterest = new(big.Int).Add(loan.AccruedInterest, delta)
	loan.InterestCarry = carry
	// Advance by the whole seconds actually accrued; the sub-second tail
	// stays in the window for the next tick.
	loan.LastAccrual = loan.LastAccrual.Add(time.Duration(elapsed) * time.Second)
}

// accrueDeposit folds pending yield into a deposit position at the pool's
// current lend rate.
func (e *Engine) accrueDeposit(position *ledger.DepositPosition, pool *ledger.Pool) {
	if position == nil {
		return
	}
	now := e.now().UTC()
	elapsed := elapsedSeconds(position.LastAccrual, now)
	if elapsed == 0 {
		return
	}
	delta, carry := Accrue(position.Principal, e.pools.LendRate(pool), elapsed, position.YieldCarry)
	position.AccruedYield = new(big.Int).Add(position.AccruedYield, delta)
	position.YieldCarry = carry
	position.LastAccrual = position.LastAccrual.Add(time.Duration(elapsed) * time.Second)
}

func (e *Engine) apply(ctx context.Context, action string, set *ledger.MutationSet) error {
	err := e.store.Apply(ctx, set)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrInvariantViolation) {
		// Bookkeeping corruption: abort loudly, never continue.
		e.logger.Error("ledger invariant violated", "action", action, "error", err)
	}
	return err
}

func (e *Engine) submit(ctx context.Context, action string, fields map[string]string) (string, error) {
	hash, err := e.submitter.Submit(ctx, chain.IntentTx(action, fields))
	if err != nil {
		e.logger.Warn("transaction submission failed", "action", action, "error", err)
		return "", err
	}
	return hash, nil
}

// ensureBalance confirms the address can cover a debit while the relevant
// locks are held. Apply enforces the same floor, but only after the intent tx
// has been broadcast; checking here keeps a rejected set from leaving a
// stray submission.
func (e *Engine) ensureBalance(ctx context.Context, addr, asset string, amount *big.Int) error {
	account, err := e.store.GetAccount(ctx, addr)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	if account.Balance(asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s %s", ledger.ErrInsufficientBalance, addr, asset)
	}
	return nil
}

func (e *Engine) loadPool(ctx context.Context, asset string) (*ledger.Pool, error) {
	pool, err := e.store.GetPool(ctx, asset)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) loadLoan(ctx context.Context, id string) (*ledger.Loan, error) {
	loan, err := e.store.GetLoan(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (e *Engine) loadOwnedLoan(ctx context.Context, id, owner string) (*ledger.Loan, error) {
	loan, err := e.loadLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	// Foreign loans are reported as missing rather than forbidden.
	if loan.Owner != owner {
		return nil, ErrLoanNotFound
	}
	if !loan.IsActive {
		return nil, ErrLoanClosed
	}
	return loan, nil
}

func (e *Engine) normalize(address string) (string, error) {
	normalized, ok := e.validator.Normalize(address)
	if !ok {
		return "", ErrInvalidAddress
	}
	return normalized, nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func addAmount(totals map[string]*big.Int, asset string, amount *big.Int) {
	if total, ok := totals[asset]; ok {
		total.Add(total, amount)
		return
	}
	totals[asset] = new(big.Int).Set(amount)
}

func elapsedSeconds(from, to time.Time) uint64 {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return uint64(to.Sub(from) / time.Second)
}

func ratToBps(rate *big.Rat) uint64 {
	if rate == nil || rate.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt(basisPoints))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Uint64()
}
