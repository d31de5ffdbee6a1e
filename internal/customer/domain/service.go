package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

type ListCustomerRequest struct {
	PageToken   string
	PageSize    int
	Name        string
	Status      Status
	WithPending bool
}

type ListCustomerFilter struct {
	Name        string
	Status      Status
	WithPending bool
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name    string
	Phone   string
	Address string
	Email   string
	Status  Status
}

// UpdateCustomerRequest carries profile edits; nil fields stay unchanged.
type UpdateCustomerRequest struct {
	ID      string
	Name    *string
	Phone   *string
	Address *string
	Email   *string
	Status  *Status
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(context.Context, string) (Customer, error)
	Update(context.Context, UpdateCustomerRequest) (Customer, error)
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidPhone  = errors.New("invalid_phone")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidID     = errors.New("invalid_id")
	ErrNotFound      = errors.New("not_found")
)
