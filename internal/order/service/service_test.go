package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/order/domain"
	"github.com/smallbiznis/balancebook/internal/order/repository"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	repo  domain.Repository
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.Order{}, &domain.OrderView{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	return &fixture{
		svc:   New(Params{DB: db, Log: zap.NewNop(), Repo: repo, Clock: clk}),
		repo:  repo,
		db:    db,
		clock: clk,
		node:  node,
	}
}

func (f *fixture) insert(t *testing.T, customerID snowflake.ID, total string) domain.Order {
	t.Helper()
	f.clock.Advance(time.Minute)
	now := f.clock.Now()
	amount := decimal.RequireFromString(total)
	order := domain.Order{
		ID:          f.node.Generate(),
		OrderNumber: domain.NewOrderNumber(now),
		CustomerID:  customerID,
		Items: datatypes.NewJSONSlice([]domain.Item{
			{ProductID: 77, Name: "Telur", Price: amount, Quantity: 1, Unit: "tray"},
		}),
		Subtotal:               amount,
		ShippingFee:            decimal.Zero,
		Total:                  amount,
		PreviousPendingBalance: decimal.Zero,
		TotalWithPending:       amount,
		Status:                 domain.StatusUnpaid,
		PaidAmount:             decimal.Zero,
		RemainingBalance:       amount,
		Date:                   now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &order))
	return order
}

func TestGetOrderRoundTripsItems(t *testing.T) {
	f := newFixture(t)
	created := f.insert(t, 10, "45.50")

	got, err := f.svc.Get(context.Background(), created.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, snowflake.ID(77), got.Items[0].ProductID)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("45.5")))
	assert.Equal(t, domain.StatusUnpaid, got.Status)
	assert.Contains(t, got.OrderNumber, "ORD-")

	_, err = f.svc.Get(context.Background(), "999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.insert(t, 10, "10")
	f.insert(t, 11, "20")
	third := f.insert(t, 10, "30")

	byCustomer, err := f.svc.ListByCustomer(ctx, "10")
	require.NoError(t, err)
	require.Len(t, byCustomer, 2)
	assert.Equal(t, first.ID, byCustomer[0].ID)
	assert.Equal(t, third.ID, byCustomer[1].ID)

	from := first.Date.Add(30 * time.Second)
	ranged, err := f.svc.List(ctx, domain.ListOrderRequest{From: &from, CustomerID: "10"})
	require.NoError(t, err)
	require.Len(t, ranged.Orders, 1)
	assert.Equal(t, third.ID, ranged.Orders[0].ID)

	paged, err := f.svc.List(ctx, domain.ListOrderRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, paged.Orders, 2)
	assert.True(t, paged.HasMore)
	rest, err := f.svc.List(ctx, domain.ListOrderRequest{PageSize: 2, PageToken: paged.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Equal(t, first.ID, rest.Orders[0].ID)

	to := from.Add(-time.Hour)
	_, err = f.svc.List(ctx, domain.ListOrderRequest{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
	_, err = f.svc.List(ctx, domain.ListOrderRequest{Status: "Refunded"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, 10, "10")

	never, err := f.svc.LastSeen(ctx, "Admin@Shop.test")
	require.NoError(t, err)
	assert.True(t, never.IsZero())

	f.clock.Advance(time.Minute)
	at, err := f.svc.MarkSeen(ctx, "Admin@Shop.test")
	require.NoError(t, err)

	last, err := f.svc.LastSeen(ctx, "admin@shop.test")
	require.NoError(t, err)
	assert.True(t, last.Equal(at))

	f.clock.Advance(time.Minute)
	again, err := f.svc.MarkSeen(ctx, "admin@shop.test")
	require.NoError(t, err)
	last, err = f.svc.LastSeen(ctx, "admin@shop.test")
	require.NoError(t, err)
	assert.True(t, last.Equal(again))

	orders, err := f.repo.ListAll(ctx, f.db)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].SeenAt)

	_, err = f.svc.MarkSeen(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidViewer)
}
