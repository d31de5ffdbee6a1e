package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrInvalidContact   = errors.New("invalid_contact")
)

type TodaysPayments struct {
	Payments []paymentdomain.Payment `json:"payments"`
	Revenue  decimal.Decimal         `json:"revenue"`
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Customers customerdomain.Repository
	Orders    orderdomain.Repository
	Payments  paymentdomain.Repository
	OrderSvc  orderdomain.Service
	Settings  *config.LedgerSettingsHolder `optional:"true"`
	Clock     clock.Clock                  `optional:"true"`
}

// Service answers read-side questions from a cached Snapshot. The cache
// is only kept while Watch is running; otherwise every call reloads.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	customers customerdomain.Repository
	orders    orderdomain.Repository
	payments  paymentdomain.Repository
	orderSvc  orderdomain.Service
	settings  *config.LedgerSettingsHolder
	clock     clock.Clock

	mu       sync.Mutex
	cached   *Snapshot
	gen      uint64
	watching bool
	unwatch  func()
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	settings := p.Settings
	if settings == nil {
		settings = config.NewStaticLedgerSettings(config.DefaultLedgerSettings())
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("query.service"),
		customers: p.Customers,
		orders:    p.Orders,
		payments:  p.Payments,
		orderSvc:  p.OrderSvc,
		settings:  settings,
		clock:     clk,
	}
}

// Snapshot returns the current collections, loading them if the cache is
// cold or disabled.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.cached != nil {
		snap := *s.cached
		s.mu.Unlock()
		return snap, nil
	}
	gen := s.gen
	s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	// A change that landed during the load leaves the cache cold.
	s.mu.Lock()
	if s.watching && s.gen == gen {
		s.cached = &snap
	}
	s.mu.Unlock()
	return snap, nil
}

func (s *Service) load(ctx context.Context) (Snapshot, error) {
	customers, err := s.customers.ListAll(ctx, s.db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load customers: %w", err)
	}
	orders, err := s.orders.ListAll(ctx, s.db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load orders: %w", err)
	}
	payments, err := s.payments.ListAll(ctx, s.db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load payments: %w", err)
	}

	snap := Snapshot{
		Customers: make([]customerdomain.Customer, 0, len(customers)),
		Orders:    orders,
		Payments:  payments,
	}
	for _, c := range customers {
		if c != nil {
			snap.Customers = append(snap.Customers, *c)
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

// Watch enables caching and drops the cache whenever the hub reports a
// change to customers, orders or payments. The cache is dropped inside
// Publish, before any subscriber receives the event.
func (s *Service) Watch(hub *changefeed.Hub) error {
	unwatch, err := hub.OnChange(func(context.Context, changefeed.Event) {
		s.Invalidate()
	}, changefeed.Customers, changefeed.Orders, changefeed.Payments)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.unwatch = unwatch
	s.watching = true
	s.cached = nil
	s.mu.Unlock()
	return nil
}

// Stop ends Watch and turns caching off.
func (s *Service) Stop() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.watching = false
	s.cached = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

func (s *Service) Dashboard(ctx context.Context, viewer string) (DashboardStats, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	lastSeen, err := s.lastSeen(ctx, viewer)
	if err != nil {
		return DashboardStats{}, err
	}
	return snap.DashboardStats(s.clock.Now(), s.settings.Get().Location(), lastSeen), nil
}

func (s *Service) FindCustomerByContact(ctx context.Context, phone, email string) (customerdomain.Customer, error) {
	email = strings.TrimSpace(email)
	if Digits(phone) == "" && email == "" {
		return customerdomain.Customer{}, ErrInvalidContact
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	c, ok := snap.FindCustomerByContact(phone, email)
	if !ok {
		return customerdomain.Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (s *Service) CustomersWithPendingBalance(ctx context.Context) ([]customerdomain.Customer, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.CustomersWithPendingBalance(), nil
}

func (s *Service) OrdersByCustomer(ctx context.Context, customerID snowflake.ID) ([]orderdomain.Order, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.OrdersByCustomer(customerID), nil
}

// CustomerPayments returns a customer's payments, newest first, with
// their sum.
func (s *Service) CustomerPayments(ctx context.Context, customerID snowflake.ID) (paymentdomain.CustomerPayments, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return paymentdomain.CustomerPayments{}, err
	}
	return paymentdomain.CustomerPayments{
		Payments:  snap.PaymentsByCustomer(customerID),
		TotalPaid: snap.CustomerTotalPaid(customerID),
	}, nil
}

func (s *Service) RecentPayments(ctx context.Context, n int) ([]paymentdomain.Payment, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.RecentPayments(n), nil
}

// TodaysPayments lists payments dated today in the shop timezone with
// their sum.
func (s *Service) TodaysPayments(ctx context.Context) (TodaysPayments, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return TodaysPayments{}, err
	}
	now, loc := s.clock.Now(), s.settings.Get().Location()
	return TodaysPayments{
		Payments: snap.TodaysPayments(now, loc),
		Revenue:  snap.TodaysRevenue(now, loc),
	}, nil
}

func (s *Service) UnseenOrderCount(ctx context.Context, viewer string) (int, error) {
	lastSeen, err := s.lastSeen(ctx, viewer)
	if err != nil {
		return 0, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.UnseenOrderCount(lastSeen), nil
}

// MarkOrdersSeen moves the viewer's marker to now. Orders still get a
// first-seen stamp, but counts only follow the viewer's marker.
func (s *Service) MarkOrdersSeen(ctx context.Context, viewer string) (time.Time, error) {
	at, err := s.orderSvc.MarkSeen(ctx, viewer)
	if err != nil {
		return time.Time{}, err
	}
	s.Invalidate()
	return at, nil
}

func (s *Service) lastSeen(ctx context.Context, viewer string) (time.Time, error) {
	if viewer == "" {
		return time.Time{}, nil
	}
	return s.orderSvc.LastSeen(ctx, viewer)
}
