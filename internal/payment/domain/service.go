package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

type ListPaymentRequest struct {
	PageToken  string
	PageSize   int
	CustomerID string
	From       *time.Time
	To         *time.Time
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

// CustomerPayments is a customer's payment history with its running total.
type CustomerPayments struct {
	Payments  []Payment       `json:"payments"`
	TotalPaid decimal.Decimal `json:"total_paid"`
}

// Service is the read side of payments. Recording a payment goes through
// the ledger.
type Service interface {
	Get(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	ListByCustomer(ctx context.Context, customerID string) (CustomerPayments, error)
}

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidRange = errors.New("invalid_range")
	ErrNotFound     = errors.New("payment_not_found")
)
