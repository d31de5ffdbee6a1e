package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
)

// Balances is the aggregate written back by the ledger.
type Balances struct {
	TotalOrders    int64
	TotalSpent     decimal.Decimal
	TotalPaid      decimal.Decimal
	PendingBalance decimal.Decimal
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter, page pagination.Pagination) ([]*Customer, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]*Customer, error)
	ListIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	UpdateProfile(ctx context.Context, db *gorm.DB, customer *Customer) error
	// CompareAndSetBalances writes balances only if the row is still at
	// version and reports whether it did.
	CompareAndSetBalances(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, balances Balances) (bool, error)
}
