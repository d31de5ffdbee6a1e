package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/order/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const orderColumns = `id, order_number, customer_id, items, subtotal, shipping_fee, total,
	previous_pending_balance, total_with_pending, status, paid_amount, remaining_balance,
	notes, date, seen_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderNumber,
		order.CustomerID,
		order.Items,
		order.Subtotal,
		order.ShippingFee,
		order.Total,
		order.PreviousPendingBalance,
		order.TotalWithPending,
		order.Status,
		order.PaidAmount,
		order.RemainingBalance,
		order.Notes,
		order.Date,
		order.SeenAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ? ORDER BY date ASC, id ASC`,
		customerID,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListOrderFilter, page pagination.Pagination) ([]*domain.Order, error) {
	var orders []*domain.Order
	stmt := db.WithContext(ctx).Model(&domain.Order{})
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.From != nil {
		stmt = stmt.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		stmt = stmt.Where("date < ?", *filter.To)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt, err := pagination.Apply(stmt, page, "created_at")
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT ` + orderColumns + ` FROM orders ORDER BY date ASC, id ASC`,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET paid_amount = ?, remaining_balance = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		order.PaidAmount,
		order.RemainingBalance,
		order.Status,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) UpdateItems(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET items = ?, subtotal = ?, shipping_fee = ?, total = ?, total_with_pending = ?,
		     paid_amount = ?, remaining_balance = ?, status = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		order.Items,
		order.Subtotal,
		order.ShippingFee,
		order.Total,
		order.TotalWithPending,
		order.PaidAmount,
		order.RemainingBalance,
		order.Status,
		order.Notes,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM orders WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) GetLastSeen(ctx context.Context, db *gorm.DB, viewer string) (*time.Time, error) {
	var view domain.OrderView
	err := db.WithContext(ctx).Raw(
		`SELECT viewer, last_seen_at FROM order_views WHERE viewer = ?`,
		viewer,
	).Scan(&view).Error
	if err != nil {
		return nil, err
	}
	if view.Viewer == "" {
		return nil, nil
	}
	return &view.LastSeenAt, nil
}

func (r *repo) UpsertLastSeen(ctx context.Context, db *gorm.DB, viewer string, at time.Time) error {
	view := domain.OrderView{Viewer: viewer, LastSeenAt: at}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "viewer"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
	}).Create(&view).Error
}

func (r *repo) MarkSeen(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET seen_at = ? WHERE seen_at IS NULL AND created_at <= ?`,
		at,
		at,
	)
	return res.RowsAffected, res.Error
}
