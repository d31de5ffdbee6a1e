package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/payment/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"gorm.io/gorm"
)

const paymentColumns = `id, customer_id, order_id, amount_paid, payment_method, notes,
	previous_balance, new_balance, payment_date, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.CustomerID,
		payment.OrderID,
		payment.AmountPaid,
		payment.PaymentMethod,
		payment.Notes,
		payment.PreviousBalance,
		payment.NewBalance,
		payment.PaymentDate,
		payment.CreatedAt,
	).Error
}

func (r *repo) InsertAllocations(ctx context.Context, db *gorm.DB, allocations []domain.Allocation) error {
	for _, a := range allocations {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_allocations (payment_id, order_id, amount) VALUES (?, ?, ?)`,
			a.PaymentID,
			a.OrderID,
			a.Amount,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	allocs, err := r.AllocationsFor(ctx, db, []snowflake.ID{payment.ID})
	if err != nil {
		return nil, err
	}
	payment.Allocations = allocs[payment.ID]
	return &payment, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE customer_id = ? ORDER BY payment_date ASC, id ASC`,
		customerID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return r.withAllocations(ctx, db, payments)
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ? ORDER BY payment_date ASC, id ASC`,
		orderID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return r.withAllocations(ctx, db, payments)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.From != nil {
		stmt = stmt.Where("payment_date >= ?", *filter.From)
	}
	if filter.To != nil {
		stmt = stmt.Where("payment_date < ?", *filter.To)
	}
	stmt, err := pagination.Apply(stmt, page, "created_at")
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT ` + paymentColumns + ` FROM payments ORDER BY payment_date ASC, id ASC`,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) AllocationsFor(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) (map[snowflake.ID][]domain.Allocation, error) {
	out := make(map[snowflake.ID][]domain.Allocation, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return out, nil
	}
	var allocs []domain.Allocation
	err := db.WithContext(ctx).Raw(
		`SELECT payment_id, order_id, amount FROM payment_allocations
		 WHERE payment_id IN ? ORDER BY payment_id, order_id`,
		paymentIDs,
	).Scan(&allocs).Error
	if err != nil {
		return nil, err
	}
	for _, a := range allocs {
		out[a.PaymentID] = append(out[a.PaymentID], a)
	}
	return out, nil
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM payments WHERE id IN ?`, ids).Error
}

func (r *repo) DeleteAllocationsByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM payment_allocations WHERE order_id = ?`, orderID).Error
}

func (r *repo) DeleteAllocationsByPayments(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) error {
	if len(paymentIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM payment_allocations WHERE payment_id IN ?`, paymentIDs).Error
}

func (r *repo) withAllocations(ctx context.Context, db *gorm.DB, payments []domain.Payment) ([]domain.Payment, error) {
	if len(payments) == 0 {
		return payments, nil
	}
	ids := make([]snowflake.ID, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	allocs, err := r.AllocationsFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].Allocations = allocs[payments[i].ID]
	}
	return payments, nil
}
