package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/customer/domain"
	"github.com/smallbiznis/balancebook/internal/customer/repository"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...changefeed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock, *recordingPublisher) {
	t.Helper()
	db := dbtest.Open(t, &domain.Customer{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}

	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Clock:     clk,
		Publisher: pub,
	})
	return svc, clk, pub
}

func TestCreateCustomer(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateCustomerRequest{
		Name:  "  Siti Rahma ",
		Phone: "0812-555-0101",
		Email: "Siti@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "Siti Rahma", created.Name)
	assert.Equal(t, "siti@example.com", created.Email)
	assert.Equal(t, domain.StatusActive, created.Status)
	assert.True(t, created.PendingBalance.IsZero())

	got, err := svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "0812-555-0101", got.Phone)

	require.Len(t, pub.events, 1)
	assert.Equal(t, changefeed.Customers, pub.events[0].Collection)
}

func TestCreateCustomerValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCustomerRequest{Phone: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = svc.Create(ctx, domain.CreateCustomerRequest{Name: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidPhone)
	_, err = svc.Create(ctx, domain.CreateCustomerRequest{Name: "A", Phone: "1", Email: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	_, err = svc.Create(ctx, domain.CreateCustomerRequest{Name: "A", Phone: "1", Status: "Gone"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestGetByIDErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetByID(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.GetByID(context.Background(), "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateCustomerProfile(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "Budi", Phone: "0811"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	name := "Budi Santoso"
	inactive := domain.Status("inactive")
	updated, err := svc.Update(ctx, domain.UpdateCustomerRequest{ID: created.ID.String(), Name: &name, Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Budi Santoso", updated.Name)
	assert.Equal(t, domain.StatusInactive, updated.Status)
	assert.Equal(t, "0811", updated.Phone)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	blank := " "
	_, err = svc.Update(ctx, domain.UpdateCustomerRequest{ID: created.ID.String(), Name: &blank})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestListCustomersPaginatesAndFilters(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Ani", "Bayu", "Citra", "Dewi", "Eka"} {
		clk.Advance(time.Minute)
		_, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: name, Phone: "08" + name})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, domain.ListCustomerRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Customers, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "Eka", first.Customers[0].Name)

	second, err := svc.List(ctx, domain.ListCustomerRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Customers, 2)
	assert.Equal(t, "Citra", second.Customers[0].Name)

	third, err := svc.List(ctx, domain.ListCustomerRequest{PageSize: 2, PageToken: second.NextPageToken})
	require.NoError(t, err)
	require.Len(t, third.Customers, 1)
	assert.False(t, third.HasMore)

	byName, err := svc.List(ctx, domain.ListCustomerRequest{Name: "CIT"})
	require.NoError(t, err)
	require.Len(t, byName.Customers, 1)

	pending, err := svc.List(ctx, domain.ListCustomerRequest{WithPending: true})
	require.NoError(t, err)
	assert.Empty(t, pending.Customers)

	_, err = svc.List(ctx, domain.ListCustomerRequest{PageToken: "%%%"})
	assert.Error(t, err)
}
