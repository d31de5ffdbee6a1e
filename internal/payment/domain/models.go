package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
)

// Payment is append-only. PreviousBalance and NewBalance snapshot the
// customer's pending balance around the payment.
type Payment struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	CustomerID      snowflake.ID    `json:"customer_id" gorm:"not null;index:ix_payments_customer_date,priority:1"`
	OrderID         *snowflake.ID   `json:"order_id,omitempty" gorm:"index"`
	AmountPaid      decimal.Decimal `json:"amount_paid" gorm:"type:numeric(14,2);not null"`
	PaymentMethod   string          `json:"payment_method" gorm:"type:text;not null"`
	Notes           string          `json:"notes,omitempty" gorm:"type:text"`
	PreviousBalance decimal.Decimal `json:"previous_balance" gorm:"type:numeric(14,2);not null"`
	NewBalance      decimal.Decimal `json:"new_balance" gorm:"type:numeric(14,2);not null"`
	PaymentDate     time.Time       `json:"payment_date" gorm:"not null;index:ix_payments_customer_date,priority:2"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`

	Allocations []Allocation `json:"allocations,omitempty" gorm:"-"`
}

func (Payment) TableName() string { return "payments" }

// Allocation is the part of a payment that reduced one order.
type Allocation struct {
	PaymentID snowflake.ID    `json:"payment_id" gorm:"primaryKey"`
	OrderID   snowflake.ID    `json:"order_id" gorm:"primaryKey;index"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
}

func (Allocation) TableName() string { return "payment_allocations" }

// State projects the payment onto the fields the balance rules use.
func (p Payment) State() ledgerdomain.PaymentState {
	allocs := make([]ledgerdomain.Allocation, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		allocs = append(allocs, ledgerdomain.Allocation{PaymentID: a.PaymentID, OrderID: a.OrderID, Amount: a.Amount})
	}
	return ledgerdomain.PaymentState{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Amount:      p.AmountPaid,
		Allocations: allocs,
	}
}

func FromLedgerAllocations(allocs []ledgerdomain.Allocation) []Allocation {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, Allocation{PaymentID: a.PaymentID, OrderID: a.OrderID, Amount: a.Amount})
	}
	return out
}
