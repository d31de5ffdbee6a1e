package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/order/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Clock     clock.Clock          `optional:"true"`
	Publisher changefeed.Publisher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	clock     clock.Clock
	publisher changefeed.Publisher
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		repo:      p.Repo,
		clock:     clk,
		publisher: p.Publisher,
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) List(ctx context.Context, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	filter := domain.ListOrderFilter{From: req.From, To: req.To}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return domain.ListOrderResponse{}, domain.ErrInvalidRange
	}
	if strings.TrimSpace(req.CustomerID) != "" {
		customerID, err := parseID(req.CustomerID)
		if err != nil {
			return domain.ListOrderResponse{}, err
		}
		filter.CustomerID = customerID
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch domain.Status(status) {
		case domain.StatusUnpaid, domain.StatusPartiallyPaid, domain.StatusPaid:
			filter.Status = domain.Status(status)
		default:
			return domain.ListOrderResponse{}, domain.ErrInvalidStatus
		}
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListOrderResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Size(), func(o *domain.Order) pagination.Cursor {
		return pagination.Cursor{ID: o.ID.String(), CreatedAt: o.CreatedAt.Format(time.RFC3339Nano)}
	})

	orders := make([]domain.Order, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}
	return domain.ListOrderResponse{PageInfo: pageInfo, Orders: orders}, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	id, err := parseID(customerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByCustomer(ctx, s.db, id)
}

// LastSeen returns the zero time for a viewer who never opened the list,
// so every order counts as unseen.
func (s *Service) LastSeen(ctx context.Context, viewer string) (time.Time, error) {
	viewer = strings.ToLower(strings.TrimSpace(viewer))
	if viewer == "" {
		return time.Time{}, domain.ErrInvalidViewer
	}
	at, err := s.repo.GetLastSeen(ctx, s.db, viewer)
	if err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return time.Time{}, nil
	}
	return *at, nil
}

func (s *Service) MarkSeen(ctx context.Context, viewer string) (time.Time, error) {
	viewer = strings.ToLower(strings.TrimSpace(viewer))
	if viewer == "" {
		return time.Time{}, domain.ErrInvalidViewer
	}
	now := s.clock.Now()

	var stamped int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpsertLastSeen(ctx, tx, viewer, now); err != nil {
			return err
		}
		n, err := s.repo.MarkSeen(ctx, tx, now)
		stamped = n
		return err
	})
	if err != nil {
		return time.Time{}, err
	}

	if stamped > 0 && s.publisher != nil {
		s.publisher.Publish(ctx, changefeed.Event{Collection: changefeed.Orders, Op: "seen"})
	}
	s.log.Debug("orders marked seen", zap.String("viewer", viewer), zap.Int64("stamped", stamped))
	return now, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
