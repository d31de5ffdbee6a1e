package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListOrderFilter struct {
	CustomerID snowflake.ID
	From       *time.Time
	To         *time.Time
	Status     Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListOrderFilter, page pagination.Pagination) ([]*Order, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Order, error)
	// UpdateBalance writes paid amount, remaining balance and status.
	UpdateBalance(ctx context.Context, db *gorm.DB, order *Order) error
	UpdateItems(ctx context.Context, db *gorm.DB, order *Order) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	GetLastSeen(ctx context.Context, db *gorm.DB, viewer string) (*time.Time, error)
	UpsertLastSeen(ctx context.Context, db *gorm.DB, viewer string, at time.Time) error
	MarkSeen(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
}
