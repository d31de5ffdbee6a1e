package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/customer/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
)

const customerColumns = `id, name, phone, address, email, status, total_orders, total_spent, total_paid,
	pending_balance, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Name,
		customer.Phone,
		customer.Address,
		customer.Email,
		customer.Status,
		customer.TotalOrders,
		customer.TotalSpent,
		customer.TotalPaid,
		customer.PendingBalance,
		customer.Version,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListCustomerFilter, page pagination.Pagination) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).Model(&domain.Customer{})
	if filter.Name != "" {
		stmt = stmt.Where("LOWER(name) LIKE ?", "%"+filter.Name+"%")
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.WithPending {
		stmt = stmt.Where("pending_balance > 0")
	}
	stmt, err := pagination.Apply(stmt, page, "created_at")
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT ` + customerColumns + ` FROM customers ORDER BY created_at, id`,
	).Scan(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.Customer{}).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET name = ?, phone = ?, address = ?, email = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		customer.Name,
		customer.Phone,
		customer.Address,
		customer.Email,
		customer.Status,
		customer.UpdatedAt,
		customer.ID,
	).Error
}

func (r *repo) CompareAndSetBalances(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, balances domain.Balances) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET total_orders = ?, total_spent = ?, total_paid = ?, pending_balance = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balances.TotalOrders,
		balances.TotalSpent,
		balances.TotalPaid,
		balances.PendingBalance,
		time.Now().UTC(),
		id,
		version,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
