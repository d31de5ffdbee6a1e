package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	"gorm.io/datatypes"
)

type Status = ledgerdomain.OrderStatus

const (
	StatusUnpaid        = ledgerdomain.OrderStatusUnpaid
	StatusPartiallyPaid = ledgerdomain.OrderStatusPartiallyPaid
	StatusPaid          = ledgerdomain.OrderStatusPaid
)

// Item is a product line captured at order time.
type Item struct {
	ProductID snowflake.ID    `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Unit      string          `json:"unit,omitempty"`
}

type Order struct {
	ID                     snowflake.ID               `json:"id" gorm:"primaryKey"`
	OrderNumber            string                     `json:"order_number" gorm:"type:text;not null;uniqueIndex:ux_orders_number"`
	CustomerID             snowflake.ID               `json:"customer_id" gorm:"not null;index:ix_orders_customer_date,priority:1"`
	Items                  datatypes.JSONSlice[Item]  `json:"items" gorm:"not null"`
	Subtotal               decimal.Decimal            `json:"subtotal" gorm:"type:numeric(14,2);not null"`
	ShippingFee            decimal.Decimal            `json:"shipping_fee" gorm:"type:numeric(14,2);not null;default:0"`
	Total                  decimal.Decimal            `json:"total" gorm:"type:numeric(14,2);not null"`
	PreviousPendingBalance decimal.Decimal            `json:"previous_pending_balance" gorm:"type:numeric(14,2);not null;default:0"`
	TotalWithPending       decimal.Decimal            `json:"total_with_pending" gorm:"type:numeric(14,2);not null"`
	Status                 Status                     `json:"status" gorm:"type:text;not null;index"`
	PaidAmount             decimal.Decimal            `json:"paid_amount" gorm:"type:numeric(14,2);not null;default:0"`
	RemainingBalance       decimal.Decimal            `json:"remaining_balance" gorm:"type:numeric(14,2);not null"`
	Notes                  string                     `json:"notes,omitempty" gorm:"type:text"`
	Date                   time.Time                  `json:"date" gorm:"not null;index:ix_orders_customer_date,priority:2"`
	SeenAt                 *time.Time                 `json:"seen_at,omitempty"`
	CreatedAt              time.Time                  `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time                  `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// State projects the order onto the fields the balance rules use.
func (o Order) State() ledgerdomain.OrderState {
	return ledgerdomain.OrderState{
		ID:               o.ID,
		Total:            o.Total,
		PaidAmount:       o.PaidAmount,
		RemainingBalance: o.RemainingBalance,
		Status:           o.Status,
		Date:             o.Date,
	}
}

// Apply copies balance fields computed by the ledger back onto the order.
func (o *Order) Apply(state ledgerdomain.OrderState) {
	o.Total = state.Total
	o.PaidAmount = state.PaidAmount
	o.RemainingBalance = state.RemainingBalance
	o.Status = state.Status
}

// Lines returns the priced quantities used to compute the subtotal.
func (o Order) Lines() []ledgerdomain.Line {
	lines := make([]ledgerdomain.Line, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, ledgerdomain.Line{Price: item.Price, Quantity: item.Quantity})
	}
	return lines
}

// OrderView remembers when a viewer last looked at the order list.
type OrderView struct {
	Viewer     string    `json:"viewer" gorm:"primaryKey;type:text"`
	LastSeenAt time.Time `json:"last_seen_at" gorm:"not null"`
}

func (OrderView) TableName() string { return "order_views" }

// NewOrderNumber returns a unique, time-sortable order number.
func NewOrderNumber(at time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
