package query

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	customerrepo "github.com/smallbiznis/balancebook/internal/customer/repository"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	orderrepo "github.com/smallbiznis/balancebook/internal/order/repository"
	orderservice "github.com/smallbiznis/balancebook/internal/order/service"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/balancebook/internal/payment/repository"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type serviceFixture struct {
	svc       *Service
	db        *gorm.DB
	clock     *clock.FakeClock
	customers customerdomain.Repository
	orders    orderdomain.Repository
	payments  paymentdomain.Repository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := dbtest.Open(t,
		&customerdomain.Customer{},
		&orderdomain.Order{},
		&orderdomain.OrderView{},
		&paymentdomain.Payment{},
		&paymentdomain.Allocation{},
	)
	f := &serviceFixture{
		db:        db,
		clock:     clock.NewFakeClock(base),
		customers: customerrepo.Provide(),
		orders:    orderrepo.Provide(),
		payments:  paymentrepo.Provide(),
	}
	orderSvc := orderservice.New(orderservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  f.orders,
		Clock: f.clock,
	})
	f.svc = NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Customers: f.customers,
		Orders:    f.orders,
		Payments:  f.payments,
		OrderSvc:  orderSvc,
		Clock:     f.clock,
	})
	return f
}

func (f *serviceFixture) addCustomer(t *testing.T, id snowflake.ID, phone, pending string) {
	t.Helper()
	require.NoError(t, f.customers.Insert(context.Background(), f.db, &customerdomain.Customer{
		ID:             id,
		Name:           "Customer " + id.String(),
		Phone:          phone,
		Status:         customerdomain.StatusActive,
		TotalSpent:     decimal.Zero,
		TotalPaid:      decimal.Zero,
		PendingBalance: dec(pending),
		CreatedAt:      base,
		UpdatedAt:      base,
	}))
}

func (f *serviceFixture) addOrder(t *testing.T, id, customerID snowflake.ID, total string, at time.Time) {
	t.Helper()
	require.NoError(t, f.orders.Insert(context.Background(), f.db, &orderdomain.Order{
		ID:                     id,
		OrderNumber:            orderdomain.NewOrderNumber(at),
		CustomerID:             customerID,
		Items:                  datatypes.NewJSONSlice([]orderdomain.Item{{ProductID: 1, Name: "Rice", Price: dec(total), Quantity: 1}}),
		Subtotal:               dec(total),
		ShippingFee:            decimal.Zero,
		Total:                  dec(total),
		PreviousPendingBalance: decimal.Zero,
		TotalWithPending:       dec(total),
		Status:                 orderdomain.StatusUnpaid,
		PaidAmount:             decimal.Zero,
		RemainingBalance:       dec(total),
		Date:                   at,
		CreatedAt:              at,
		UpdatedAt:              at,
	}))
}

func TestServiceReloadsWithoutWatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addCustomer(t, 1, "0812-111", "10")

	stats, err := f.svc.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Customers)

	f.addCustomer(t, 2, "0812-222", "5")
	stats, err = f.svc.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Customers)
	assert.Equal(t, "15", stats.PendingBalance.String())
}

func TestServiceCacheInvalidatedByChangefeed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	hub := changefeed.NewHub()
	require.NoError(t, f.svc.Watch(hub))
	t.Cleanup(f.svc.Stop)

	f.addCustomer(t, 1, "0812-111", "10")
	pending, err := f.svc.CustomersWithPendingBalance(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.addCustomer(t, 2, "0812-222", "5")
	pending, err = f.svc.CustomersWithPendingBalance(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "cached snapshot is served until a change arrives")

	hub.Publish(ctx, changefeed.Event{Collection: changefeed.Customers, Op: "create"})
	pending, err = f.svc.CustomersWithPendingBalance(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSubscribersNeverReadStaleSnapshot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	hub := changefeed.NewHub()
	require.NoError(t, f.svc.Watch(hub))
	t.Cleanup(f.svc.Stop)

	sub, err := hub.Subscribe(changefeed.Customers)
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 50; i++ {
		snap, err := f.svc.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Customers, i-1)

		f.addCustomer(t, snowflake.ID(i), "0812-"+snowflake.ID(i).String(), "1")
		hub.Publish(ctx, changefeed.Event{Collection: changefeed.Customers, Op: "create"})

		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatal("expected a customers event")
		}
		snap, err = f.svc.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Customers, i, "reload after event %d", i)
	}
}

func TestStopDetachesFromHub(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	hub := changefeed.NewHub()
	require.NoError(t, f.svc.Watch(hub))
	f.svc.Stop()

	f.addCustomer(t, 1, "0812-111", "10")
	hub.Publish(ctx, changefeed.Event{Collection: changefeed.Customers, Op: "create"})
	pending, err := f.svc.CustomersWithPendingBalance(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestUnseenCountIsPerViewer(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addCustomer(t, 1, "0812-111", "10")
	f.addOrder(t, 10, 1, "10", base.Add(-time.Hour))

	_, err := f.svc.MarkOrdersSeen(ctx, "alice@example.com")
	require.NoError(t, err)

	alice, err := f.svc.UnseenOrderCount(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Zero(t, alice)

	bob, err := f.svc.UnseenOrderCount(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, bob)

	stats, err := f.svc.Dashboard(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnseenOrders)
}

func TestServiceLookupAndUnseen(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.addCustomer(t, 1, "+62 812 111", "30")
	f.addOrder(t, 10, 1, "10", base.Add(-time.Hour))
	f.addOrder(t, 11, 1, "20", base.Add(-time.Minute))

	c, err := f.svc.FindCustomerByContact(ctx, "62812111", "")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1), c.ID)

	_, err = f.svc.FindCustomerByContact(ctx, "0000", "")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	_, err = f.svc.FindCustomerByContact(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = f.svc.FindCustomerByContact(ctx, "", "   ")
	assert.ErrorIs(t, err, ErrInvalidContact)

	orders, err := f.svc.OrdersByCustomer(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, snowflake.ID(11), orders[0].ID)

	unseen, err := f.svc.UnseenOrderCount(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, unseen)

	f.clock.Advance(time.Minute)
	_, err = f.svc.MarkOrdersSeen(ctx, "admin@example.com")
	require.NoError(t, err)

	unseen, err = f.svc.UnseenOrderCount(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Zero(t, unseen)

	f.addOrder(t, 12, 1, "5", f.clock.Now().Add(time.Minute))
	unseen, err = f.svc.UnseenOrderCount(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, unseen)
}
