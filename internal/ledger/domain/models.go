package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// OrderStatus mirrors the payment progress of a single order.
type OrderStatus string

const (
	OrderStatusUnpaid        OrderStatus = "Unpaid"
	OrderStatusPartiallyPaid OrderStatus = "PartiallyPaid"
	OrderStatusPaid          OrderStatus = "Paid"
)

// Aggregate is the set of customer fields owned by the ledger.
type Aggregate struct {
	TotalOrders    int64           `json:"total_orders"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
}

// Equal compares aggregates by value; decimals with different exponents
// but the same amount are equal.
func (a Aggregate) Equal(b Aggregate) bool {
	return a.TotalOrders == b.TotalOrders &&
		a.TotalSpent.Equal(b.TotalSpent) &&
		a.TotalPaid.Equal(b.TotalPaid) &&
		a.PendingBalance.Equal(b.PendingBalance)
}

// OrderState is the slice of an order the balance rules operate on.
type OrderState struct {
	ID               snowflake.ID
	Total            decimal.Decimal
	PaidAmount       decimal.Decimal
	RemainingBalance decimal.Decimal
	Status           OrderStatus
	Date             time.Time
}

// Open reports whether the order still carries an outstanding balance.
func (o OrderState) Open() bool {
	return o.Status != OrderStatusPaid && o.RemainingBalance.IsPositive()
}

// Allocation records the part of a payment that reduced one order.
type Allocation struct {
	PaymentID snowflake.ID    `json:"payment_id"`
	OrderID   snowflake.ID    `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentState is the slice of a payment the balance rules operate on.
type PaymentState struct {
	ID          snowflake.ID
	OrderID     *snowflake.ID
	Amount      decimal.Decimal
	Allocations []Allocation
}

// PaymentInput describes a payment about to be recorded.
type PaymentInput struct {
	ID      snowflake.ID
	Amount  decimal.Decimal
	OrderID *snowflake.ID
}

// PaymentOutcome is everything a payment changes.
type PaymentOutcome struct {
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	Allocations     []Allocation
	// Orders holds only the orders whose paid amount changed.
	Orders    []OrderState
	Aggregate Aggregate
}

// DeleteOutcome is everything an order deletion changes.
type DeleteOutcome struct {
	Aggregate Aggregate
	// Orders holds the surviving orders whose paid amount was reversed.
	Orders []OrderState
	// PaymentIDs lists the payments linked to the deleted order.
	PaymentIDs []snowflake.ID
}
