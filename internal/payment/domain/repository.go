package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListPaymentFilter struct {
	CustomerID snowflake.ID
	From       *time.Time
	To         *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertAllocations(ctx context.Context, db *gorm.DB, allocations []Allocation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Payment, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]*Payment, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Payment, error)
	// AllocationsFor loads allocations of the given payments keyed by
	// payment id.
	AllocationsFor(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) (map[snowflake.ID][]Allocation, error)
	DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	DeleteAllocationsByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error
	DeleteAllocationsByPayments(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) error
}
