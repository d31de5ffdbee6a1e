package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Product, error)
	List(ctx context.Context, req ListRequest) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Update(ctx context.Context, req UpdateRequest) (*Product, error)
	Delete(ctx context.Context, id string) error
}

type ListRequest struct {
	Name    string
	InStock *bool
}

type CreateRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Price   string `json:"price"`
	Unit    string `json:"unit"`
	InStock *bool  `json:"in_stock"`
}

type UpdateRequest struct {
	ID      string  `json:"-"`
	Name    *string `json:"name"`
	Price   *string `json:"price"`
	Unit    *string `json:"unit"`
	InStock *bool   `json:"in_stock"`
}

var (
	ErrInvalidCode   = errors.New("invalid_code")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidPrice  = errors.New("invalid_price")
	ErrNotFound      = errors.New("product_not_found")
	ErrInvalidID     = errors.New("invalid_id")
	ErrDuplicateCode = errors.New("duplicate_code")
)
