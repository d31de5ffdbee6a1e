package receipt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/config"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	customerrepo "github.com/smallbiznis/balancebook/internal/customer/repository"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	orderrepo "github.com/smallbiznis/balancebook/internal/order/repository"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func sampleOrder() orderdomain.Order {
	at := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
	return orderdomain.Order{
		ID:          77,
		OrderNumber: "ORD-TEST",
		CustomerID:  5,
		Items: datatypes.NewJSONSlice([]orderdomain.Item{
			{ProductID: 1, Name: "Tomato", Price: dec("20"), Quantity: 3, Unit: "kg"},
			{ProductID: 2, Name: "Onion", Price: dec("12.5"), Quantity: 2},
		}),
		Subtotal:               dec("85"),
		ShippingFee:            dec("0"),
		Total:                  dec("85"),
		PreviousPendingBalance: dec("15"),
		TotalWithPending:       dec("100"),
		Status:                 orderdomain.StatusPartiallyPaid,
		PaidAmount:             dec("50"),
		RemainingBalance:       dec("35"),
		Date:                   at,
		CreatedAt:              at,
		UpdatedAt:              at,
	}
}

func TestBuildFormatsOrder(t *testing.T) {
	settings := config.DefaultLedgerSettings()
	settings.Timezone = "Asia/Jakarta"
	settings.Shop.Name = "Sayur Segar"

	data := Build(sampleOrder(), customerdomain.Customer{Name: "Ana", Phone: "0812"}, settings)

	assert.Equal(t, "Sayur Segar", data.ShopName)
	assert.Equal(t, "02 Apr 2026 22:30", data.Date)
	assert.Equal(t, "PartiallyPaid", data.Status)
	require.Len(t, data.Lines, 2)
	assert.Equal(t, Line{Name: "Tomato (kg)", Quantity: 3, UnitPrice: "20.00", Amount: "60.00"}, data.Lines[0])
	assert.Equal(t, "25.00", data.Lines[1].Amount)
	assert.Equal(t, "35.00", data.RemainingBalance)
	assert.Equal(t, "100.00", data.TotalWithPending)
}

func TestRenderProducesPDF(t *testing.T) {
	data := Build(sampleOrder(), customerdomain.Customer{Name: "Ana"}, config.DefaultLedgerSettings())
	pdf, err := Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
}

func TestOrderReceipt(t *testing.T) {
	db := dbtest.Open(t, &customerdomain.Customer{}, &orderdomain.Order{})
	customers := customerrepo.Provide()
	orders := orderrepo.Provide()
	ctx := context.Background()

	order := sampleOrder()
	require.NoError(t, customers.Insert(ctx, db, &customerdomain.Customer{
		ID: order.CustomerID, Name: "Ana", Phone: "0812", Status: customerdomain.StatusActive,
		TotalSpent: dec("85"), TotalPaid: dec("50"), PendingBalance: dec("35"),
		CreatedAt: order.CreatedAt, UpdatedAt: order.UpdatedAt,
	}))
	require.NoError(t, orders.Insert(ctx, db, &order))

	svc := NewService(Params{DB: db, Log: zap.NewNop(), Orders: orders, Customers: customers})
	pdf, name, err := svc.OrderReceipt(ctx, "77")
	require.NoError(t, err)
	assert.Equal(t, "ORD-TEST.pdf", name)
	assert.NotEmpty(t, pdf)

	_, _, err = svc.OrderReceipt(ctx, "78")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.OrderReceipt(ctx, "abc")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
