package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

type ListOrderRequest struct {
	PageToken  string
	PageSize   int
	CustomerID string
	From       *time.Time
	To         *time.Time
	Status     string
}

type ListOrderResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

// Service is the read side of orders. Writes that move money go through
// the ledger.
type Service interface {
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, req ListOrderRequest) (ListOrderResponse, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	LastSeen(ctx context.Context, viewer string) (time.Time, error)
	MarkSeen(ctx context.Context, viewer string) (time.Time, error)
}

var (
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidViewer = errors.New("invalid_viewer")
	ErrInvalidRange  = errors.New("invalid_range")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrNotFound      = errors.New("order_not_found")
)
