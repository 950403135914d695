// Package storage persists the ledger in a relational database through gorm.
// Postgres backs production deployments; the pure-Go sqlite driver backs
// development and tests. Closed loans are kept forever; schema changes must
// preserve that.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// Account is one row per wallet address. Balances live in their own table so
// each (address, asset) pair updates independently.
type Account struct {
	Address   string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the tracked amount of one asset for one account, stored as a
// base-10 string to keep arbitrary precision out of the driver's hands.
type Balance struct {
	Address   string `gorm:"primaryKey;size:64"`
	Asset     string `gorm:"primaryKey;size:16"`
	Amount    string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool is the aggregate liquidity row for one asset.
type Pool struct {
	Asset          string `gorm:"primaryKey;size:16"`
	TotalLiquidity string `gorm:"not null"`
	TotalBorrowed  string `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Loan persists a borrow position across its whole lifecycle. Inactive rows
// are terminal records, never deleted.
type Loan struct {
	ID               string `gorm:"primaryKey;size:36"`
	Owner            string `gorm:"size:64;index"`
	CollateralAsset  string `gorm:"size:16"`
	CollateralAmount string `gorm:"not null"`
	BorrowAsset      string `gorm:"size:16"`
	Principal        string `gorm:"not null"`
	AccruedInterest  string `gorm:"not null"`
	// InterestCarry stores the sub-unit accrual remainder as an exact
	// rational, e.g. "5/7".
	InterestCarry string `gorm:"size:128"`
	RateMode      string `gorm:"size:16"`
	FixedRateBps  uint64
	OpenedAt      time.Time
	LastAccrual   time.Time
	IsActive      bool   `gorm:"index"`
	CloseReason   string `gorm:"size:16"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deposit persists one account's position in one pool. Zeroed, not removed,
// on full withdrawal.
type Deposit struct {
	ID           string `gorm:"primaryKey;size:36"`
	Owner        string `gorm:"size:64;uniqueIndex:idx_deposits_owner_asset"`
	Asset        string `gorm:"size:16;uniqueIndex:idx_deposits_owner_asset"`
	Principal    string `gorm:"not null"`
	AccruedYield string `gorm:"not null"`
	YieldCarry   string `gorm:"size:128"`
	SuppliedAt   time.Time
	LastAccrual  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AutoMigrate creates or upgrades every table the ledger needs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Balance{},
		&Pool{},
		&Loan{},
		&Deposit{},
	)
}
