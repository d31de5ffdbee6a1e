package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
)

// Service applies every write that moves a customer's balance. Each call
// runs in one transaction over the customer row and the orders and
// payments it touches.
type Service interface {
	ApplyNewOrder(ctx context.Context, req NewOrderRequest) (OrderResult, error)
	ApplyPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	ModifyOrder(ctx context.Context, req ModifyOrderRequest) (OrderResult, error)
	DeleteOrder(ctx context.Context, orderID string) (DeleteResult, error)

	RebuildCustomer(ctx context.Context, customerID string) (customerdomain.Customer, error)
	RebuildAll(ctx context.Context) (RebuildReport, error)
	Verify(ctx context.Context, customerID string) (*ledgerdomain.ConsistencyError, error)
	VerifyAll(ctx context.Context) (VerifyReport, error)
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price,omitempty"`
	Quantity  int64  `json:"quantity"`
}

type NewOrderRequest struct {
	CustomerID string      `json:"customer_id"`
	Items      []ItemInput `json:"items"`
	Notes      string      `json:"notes,omitempty"`
	Date       *time.Time  `json:"date,omitempty"`
}

type PaymentRequest struct {
	CustomerID string     `json:"customer_id"`
	Amount     string     `json:"amount"`
	OrderID    string     `json:"order_id,omitempty"`
	Method     string     `json:"payment_method,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Date       *time.Time `json:"payment_date,omitempty"`
}

type ModifyOrderRequest struct {
	OrderID string      `json:"-"`
	Items   []ItemInput `json:"items"`
	Notes   *string     `json:"notes,omitempty"`
}

type OrderResult struct {
	Order    orderdomain.Order       `json:"order"`
	Customer customerdomain.Customer `json:"customer"`
}

type PaymentResult struct {
	Payment  paymentdomain.Payment   `json:"payment"`
	Customer customerdomain.Customer `json:"customer"`
	// Orders are the orders whose paid amount the payment raised.
	Orders []orderdomain.Order `json:"orders"`
}

type DeleteResult struct {
	OrderID         snowflake.ID            `json:"order_id"`
	Customer        customerdomain.Customer `json:"customer"`
	DeletedPayments []snowflake.ID          `json:"deleted_payments"`
	// Orders are the surviving orders whose paid amount was reversed.
	Orders []orderdomain.Order `json:"orders"`
}

type RebuildReport struct {
	Rebuilt   int `json:"rebuilt"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
}

type VerifyReport struct {
	Checked int                              `json:"checked"`
	Drifted []*ledgerdomain.ConsistencyError `json:"drifted"`
}
