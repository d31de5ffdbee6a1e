package receipt

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/config"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidOrder = errors.New("invalid_order")
	ErrNotFound     = errors.New("order_not_found")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Orders    orderdomain.Repository
	Customers customerdomain.Repository
	Settings  *config.LedgerSettingsHolder `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	orders    orderdomain.Repository
	customers customerdomain.Repository
	settings  *config.LedgerSettingsHolder
}

func NewService(p Params) *Service {
	settings := p.Settings
	if settings == nil {
		settings = config.NewStaticLedgerSettings(config.DefaultLedgerSettings())
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("receipt"),
		orders:    p.Orders,
		customers: p.Customers,
		settings:  settings,
	}
}

// OrderReceipt renders the receipt PDF for an order and returns it with a
// suggested file name.
func (s *Service) OrderReceipt(ctx context.Context, id string) ([]byte, string, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || orderID == 0 {
		return nil, "", ErrInvalidOrder
	}
	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", ErrNotFound
	}
	customer, err := s.customers.FindByID(ctx, s.db, order.CustomerID)
	if err != nil {
		return nil, "", err
	}
	if customer == nil {
		customer = &customerdomain.Customer{Name: "Unknown customer"}
	}

	data := Build(*order, *customer, s.settings.Get())
	pdf, err := Render(data)
	if err != nil {
		s.log.Error("render failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, "", err
	}
	return pdf, order.OrderNumber + ".pdf", nil
}

// Build formats an order for printing.
func Build(order orderdomain.Order, customer customerdomain.Customer, settings config.LedgerSettings) Data {
	loc := settings.Location()
	data := Data{
		ShopName:               settings.Shop.Name,
		ShopAddress:            settings.Shop.Address,
		ShopPhone:              settings.Shop.Phone,
		ShopEmail:              settings.Shop.Email,
		OrderNumber:            order.OrderNumber,
		Date:                   order.Date.In(loc).Format("02 Jan 2006 15:04"),
		Status:                 string(order.Status),
		CustomerName:           customer.Name,
		CustomerPhone:          customer.Phone,
		CustomerAddress:        customer.Address,
		Subtotal:               money(order.Subtotal),
		ShippingFee:            money(order.ShippingFee),
		Total:                  money(order.Total),
		PaidAmount:             money(order.PaidAmount),
		RemainingBalance:       money(order.RemainingBalance),
		PreviousPendingBalance: money(order.PreviousPendingBalance),
		TotalWithPending:       money(order.TotalWithPending),
		Notes:                  order.Notes,
	}
	for _, item := range order.Items {
		name := item.Name
		if item.Unit != "" {
			name += " (" + item.Unit + ")"
		}
		data.Lines = append(data.Lines, Line{
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: money(item.Price),
			Amount:    money(item.Price.Mul(decimal.NewFromInt(item.Quantity))),
		})
	}
	return data
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
