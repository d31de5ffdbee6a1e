package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/clock"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	ledgerservice "github.com/smallbiznis/balancebook/internal/ledger/service"
	productdomain "github.com/smallbiznis/balancebook/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type demoProduct struct {
	name  string
	price string
}

var demoProducts = []demoProduct{
	{"Tomato", "20"},
	{"Potato", "25"},
	{"Onion", "30"},
	{"Carrot", "40"},
	{"Brinjal", "35"},
	{"Cabbage", "30"},
	{"Cauliflower", "45"},
	{"Beans", "50"},
	{"Green Peas", "60"},
	{"Spinach", "20"},
}

type demoCustomer struct {
	name    string
	phone   string
	address string
}

var demoCustomers = []demoCustomer{
	{"Green Leaf Restaurant", "+91 98765 43210", "12 Market Road"},
	{"Fresh Mart", "+91 98765 43211", "45 Station Street"},
	{"Hotel Sunrise", "+91 98765 43212", "7 Lake View"},
	{"City Canteen", "+91 98765 43213", "88 College Lane"},
	{"Annapurna Caterers", "+91 98765 43214", "3 Temple Square"},
}

type demoLine struct {
	product  int
	quantity int64
}

type demoOrder struct {
	customer int
	lines    []demoLine
	paid     bool
}

var demoOrders = []demoOrder{
	{0, []demoLine{{0, 5}, {1, 3}}, false},
	{0, []demoLine{{2, 2}}, true},
	{0, []demoLine{{3, 4}, {4, 2}}, false},
	{1, []demoLine{{0, 10}, {3, 5}}, false},
	{1, []demoLine{{5, 3}, {6, 2}}, true},
	{2, []demoLine{{1, 8}, {4, 4}}, true},
	{2, []demoLine{{7, 6}}, false},
	{3, []demoLine{{0, 15}, {2, 10}}, false},
	{3, []demoLine{{8, 5}}, true},
	{4, []demoLine{{1, 20}, {5, 8}, {9, 3}}, false},
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Customers customerdomain.Repository
	Products  productdomain.Repository
	Ledger    ledgerservice.Service
	Clock     clock.Clock `optional:"true"`
}

// Demo fills an empty database with products, customers and a handful of
// orders, some of them paid. It does nothing once any customer exists.
func Demo(ctx context.Context, p Params) error {
	if p.DB == nil {
		return errors.New("seed database handle is required")
	}
	log := p.Log.Named("seed")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	existing, err := p.Customers.ListIDs(ctx, p.DB)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Info("demo data skipped, customers already exist", zap.Int("customers", len(existing)))
		return nil
	}

	now := clk.Now()
	products := make([]productdomain.Product, 0, len(demoProducts))
	customers := make([]customerdomain.Customer, 0, len(demoCustomers))
	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range demoProducts {
			product := productdomain.Product{
				ID:        p.GenID.Generate(),
				Code:      slug.Make(d.name),
				Name:      d.name,
				Price:     decimal.RequireFromString(d.price),
				Unit:      "kg",
				InStock:   true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := p.Products.Create(ctx, tx, &product); err != nil {
				return fmt.Errorf("product %s: %w", d.name, err)
			}
			products = append(products, product)
		}
		for _, d := range demoCustomers {
			customer := customerdomain.Customer{
				ID:             p.GenID.Generate(),
				Name:           d.name,
				Phone:          d.phone,
				Address:        d.address,
				Status:         customerdomain.StatusActive,
				TotalSpent:     decimal.Zero,
				TotalPaid:      decimal.Zero,
				PendingBalance: decimal.Zero,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := p.Customers.Insert(ctx, tx, &customer); err != nil {
				return fmt.Errorf("customer %s: %w", d.name, err)
			}
			customers = append(customers, customer)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, d := range demoOrders {
		date := now.Add(time.Duration(i-len(demoOrders)) * time.Hour)
		items := make([]ledgerservice.ItemInput, 0, len(d.lines))
		for _, line := range d.lines {
			items = append(items, ledgerservice.ItemInput{
				ProductID: products[line.product].ID.String(),
				Quantity:  line.quantity,
			})
		}
		placed, err := p.Ledger.ApplyNewOrder(ctx, ledgerservice.NewOrderRequest{
			CustomerID: customers[d.customer].ID.String(),
			Items:      items,
			Date:       &date,
		})
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		if !d.paid {
			continue
		}
		_, err = p.Ledger.ApplyPayment(ctx, ledgerservice.PaymentRequest{
			CustomerID: customers[d.customer].ID.String(),
			OrderID:    placed.Order.ID.String(),
			Amount:     placed.Order.Total.String(),
			Notes:      "demo payment",
			Date:       &date,
		})
		if err != nil {
			return fmt.Errorf("payment for order %d: %w", i, err)
		}
	}

	report, err := p.Ledger.RebuildAll(ctx)
	if err != nil {
		return err
	}
	log.Info("demo data seeded",
		zap.Int("products", len(products)),
		zap.Int("customers", len(customers)),
		zap.Int("orders", len(demoOrders)),
		zap.Int("corrected", report.Corrected),
	)
	return nil
}
