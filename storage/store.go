package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lendflow/ledger"
)

// Store implements ledger.Store on top of gorm. Every Apply runs in a single
// database transaction, so a failed mutation set leaves no trace.
type Store struct {
	db *gorm.DB
}

// New wraps an opened gorm handle. The schema must already be migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// GetAccount implements ledger.Store.
func (s *Store) GetAccount(ctx context.Context, address string) (*ledger.Account, error) {
	var row Account
	if err := s.db.WithContext(ctx).First(&row, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	var balances []Balance
	if err := s.db.WithContext(ctx).Find(&balances, "address = ?", address).Error; err != nil {
		return nil, err
	}
	var loanIDs []string
	if err := s.db.WithContext(ctx).Model(&Loan{}).Where("owner = ?", address).Order("opened_at").Pluck("id", &loanIDs).Error; err != nil {
		return nil, err
	}
	account := &ledger.Account{
		Address:   row.Address,
		Balances:  make(map[string]*big.Int, len(balances)),
		LoanIDs:   loanIDs,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, b := range balances {
		amount, err := parseAmount("balance", b.Amount)
		if err != nil {
			return nil, err
		}
		account.Balances[b.Asset] = amount
	}
	return account, nil
}

// GetPool implements ledger.Store.
func (s *Store) GetPool(ctx context.Context, asset string) (*ledger.Pool, error) {
	var row Pool
	if err := s.db.WithContext(ctx).First(&row, "asset = ?", asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return poolFromModel(&row)
}

// ListPools implements ledger.Store.
func (s *Store) ListPools(ctx context.Context) ([]*ledger.Pool, error) {
	var rows []Pool
	if err := s.db.WithContext(ctx).Order("asset").Find(&rows).Error; err != nil {
		return nil, err
	}
	pools := make([]*ledger.Pool, 0, len(rows))
	for i := range rows {
		pool, err := poolFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// GetLoan implements ledger.Store.
func (s *Store) GetLoan(ctx context.Context, id string) (*ledger.Loan, error) {
	var row Loan
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return loanFromModel(&row)
}

// LoansByOwner implements ledger.Store.
func (s *Store) LoansByOwner(ctx context.Context, address string, activeOnly bool) ([]*ledger.Loan, error) {
	query := s.db.WithContext(ctx).Where("owner = ?", address)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []Loan
	if err := query.Order("opened_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	loans := make([]*ledger.Loan, 0, len(rows))
	for i := range rows {
		loan, err := loanFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

// GetDeposit implements ledger.Store.
func (s *Store) GetDeposit(ctx context.Context, address, asset string) (*ledger.DepositPosition, error) {
	var row Deposit
	if err := s.db.WithContext(ctx).First(&row, "owner = ? AND asset = ?", address, asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return depositFromModel(&row)
}

// DepositsByOwner implements ledger.Store.
func (s *Store) DepositsByOwner(ctx context.Context, address string) ([]*ledger.DepositPosition, error) {
	var rows []Deposit
	if err := s.db.WithContext(ctx).Where("owner = ?", address).Order("asset").Find(&rows).Error; err != nil {
		return nil, err
	}
	deposits := make([]*ledger.DepositPosition, 0, len(rows))
	for i := range rows {
		dep, err := depositFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}
	return deposits, nil
}

// EnsurePool implements ledger.Store.
func (s *Store) EnsurePool(ctx context.Context, asset string) error {
	row := Pool{Asset: asset, TotalLiquidity: "0", TotalBorrowed: "0"}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Apply implements ledger.Store. The set replays in order against an
// in-transaction working copy, so a debit sees the effect of every earlier
// entry; any check failure rolls the whole transaction back.
func (s *Store) Apply(ctx context.Context, set *ledger.MutationSet) error {
	if set.Empty() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := newTxState(tx)
		for _, op := range set.Operations() {
			var err error
			switch op.Kind {
			case ledger.MutateAccountBalance:
				err = state.applyBalance(op.Address, op.Asset, op.Delta)
			case ledger.MutatePool:
				err = state.applyPool(op.Asset, op.Delta, op.BorrowedDelta)
			case ledger.MutatePutLoan:
				err = state.putLoan(op.Loan)
			case ledger.MutatePutDeposit:
				err = state.putDeposit(op.Deposit)
			case ledger.MutateAttachLoan:
				err = state.touchAccount(op.Address)
			default:
				err = fmt.Errorf("unknown mutation kind %q", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return state.flush()
	})
}

// txState is the working copy of every row a mutation set touches. Rows load
// lazily and write back once in flush.
type txState struct {
	tx       *gorm.DB
	balances map[string]*big.Int
	pools    map[string]*poolState
	loans    []*ledger.Loan
	deposits []*ledger.DepositPosition
	accounts map[string]struct{}
}

type poolState struct {
	liquidity *big.Int
	borrowed  *big.Int
}

func newTxState(tx *gorm.DB) *txState {
	return &txState{
		tx:       tx,
		balances: make(map[string]*big.Int),
		pools:    make(map[string]*poolState),
		accounts: make(map[string]struct{}),
	}
}

func balanceKey(address, asset string) string { return address + "/" + asset }

func (s *txState) loadBalance(address, asset string) (*big.Int, error) {
	key := balanceKey(address, asset)
	if amount, ok := s.balances[key]; ok {
		return amount, nil
	}
	var row Balance
	err := s.tx.First(&row, "address = ? AND asset = ?", address, asset).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		amount := big.NewInt(0)
		s.balances[key] = amount
		return amount, nil
	case err != nil:
		return nil, err
	}
	amount, err := parseAmount("balance", row.Amount)
	if err != nil {
		return nil, err
	}
	s.balances[key] = amount
	return amount, nil
}

func (s *txState) applyBalance(address, asset string, delta *big.Int) error {
	if delta == nil {
		return nil
	}
	amount, err := s.loadBalance(address, asset)
	if err != nil {
		return err
	}
	amount.Add(amount, delta)
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s %s", ledger.ErrInsufficientBalance, address, asset)
	}
	s.accounts[address] = struct{}{}
	return nil
}

func (s *txState) loadPool(asset string) (*poolState, error) {
	if pool, ok := s.pools[asset]; ok {
		return pool, nil
	}
	var row Pool
	if err := s.tx.First(&row, "asset = ?", asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pool %s", ledger.ErrNotFound, asset)
		}
		return nil, err
	}
	liquidity, err := parseAmount("pool liquidity", row.TotalLiquidity)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseAmount("pool borrowed", row.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	pool := &poolState{liquidity: liquidity, borrowed: borrowed}
	s.pools[asset] = pool
	return pool, nil
}

func (s *txState) applyPool(asset string, liquidityDelta, borrowedDelta *big.Int) error {
	pool, err := s.loadPool(asset)
	if err != nil {
		return err
	}
	if liquidityDelta != nil {
		pool.liquidity.Add(pool.liquidity, liquidityDelta)
	}
	if borrowedDelta != nil {
		pool.borrowed.Add(pool.borrowed, borrowedDelta)
	}
	if pool.liquidity.Sign() < 0 || pool.borrowed.Sign() < 0 {
		return fmt.Errorf("%w: pool %s", ledger.ErrInsufficientBalance, asset)
	}
	if pool.borrowed.Cmp(pool.liquidity) > 0 {
		return fmt.Errorf("%w: pool %s borrowed above liquidity", ledger.ErrInvariantViolation, asset)
	}
	return nil
}

func (s *txState) putLoan(loan *ledger.Loan) error {
	if loan == nil || loan.ID == "" {
		return fmt.Errorf("%w: loan record incomplete", ledger.ErrInvariantViolation)
	}
	s.loans = append(s.loans, loan)
	s.accounts[loan.Owner] = struct{}{}
	return nil
}

func (s *txState) putDeposit(dep *ledger.DepositPosition) error {
	if dep == nil || dep.ID == "" {
		return fmt.Errorf("%w: deposit record incomplete", ledger.ErrInvariantViolation)
	}
	s.deposits = append(s.deposits, dep)
	s.accounts[dep.Owner] = struct{}{}
	return nil
}

func (s *txState) touchAccount(address string) error {
	s.accounts[address] = struct{}{}
	return nil
}

func (s *txState) flush() error {
	now := time.Now().UTC()
	for address := range s.accounts {
		row := Account{Address: address}
		if err := s.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	for key, amount := range s.balances {
		address, asset, ok := splitBalanceKey(key)
		if !ok {
			return fmt.Errorf("%w: malformed balance key %q", ledger.ErrInvariantViolation, key)
		}
		row := Balance{Address: address, Asset: asset, Amount: amount.String(), UpdatedAt: now}
		err := s.tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}, {Name: "asset"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	}
	for asset, pool := range s.pools {
		updates := map[string]any{
			"total_liquidity": pool.liquidity.String(),
			"total_borrowed":  pool.borrowed.String(),
			"updated_at":      now,
		}
		if err := s.tx.Model(&Pool{}).Where("asset = ?", asset).Updates(updates).Error; err != nil {
			return err
		}
	}
	for _, loan := range s.loans {
		row := loanToModel(loan)
		if err := s.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return err
		}
	}
	for _, dep := range s.deposits {
		row := depositToModel(dep)
		if err := s.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func splitBalanceKey(key string) (address, asset string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
