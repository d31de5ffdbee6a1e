package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/payment/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("payment.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return domain.Payment{}, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment == nil {
		return domain.Payment{}, domain.ErrNotFound
	}
	return *payment, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return domain.ListPaymentResponse{}, domain.ErrInvalidRange
	}
	filter := domain.ListPaymentFilter{From: req.From, To: req.To}
	if strings.TrimSpace(req.CustomerID) != "" {
		customerID, err := parseID(req.CustomerID)
		if err != nil {
			return domain.ListPaymentResponse{}, err
		}
		filter.CustomerID = customerID
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListPaymentResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Size(), func(p *domain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.String(), CreatedAt: p.CreatedAt.Format(time.RFC3339Nano)}
	})

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return domain.ListPaymentResponse{PageInfo: pageInfo, Payments: payments}, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) (domain.CustomerPayments, error) {
	id, err := parseID(customerID)
	if err != nil {
		return domain.CustomerPayments{}, err
	}
	payments, err := s.repo.ListByCustomer(ctx, s.db, id)
	if err != nil {
		return domain.CustomerPayments{}, err
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.AmountPaid)
	}
	return domain.CustomerPayments{Payments: payments, TotalPaid: total}, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
