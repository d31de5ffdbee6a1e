package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/balancebook/internal/audit/domain"
	"github.com/smallbiznis/balancebook/internal/clock"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	"github.com/smallbiznis/balancebook/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/balancebook/internal/ledger/service"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	ledgerservice.Service
	mock.Mock
}

func (m *mockLedger) VerifyAll(ctx context.Context) (ledgerservice.VerifyReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledgerservice.VerifyReport), args.Error(1)
}

func (m *mockLedger) RebuildCustomer(ctx context.Context, id string) (customerdomain.Customer, error) {
	args := m.Called(ctx, id)
	return customerdomain.Customer{}, args.Error(0)
}

type mockAudit struct {
	auditdomain.Service
	mock.Mock
}

func (m *mockAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	args := m.Called(actorType, action, targetType, *targetID)
	return args.Error(0)
}

func drift(id snowflake.ID) *ledgerdomain.ConsistencyError {
	return &ledgerdomain.ConsistencyError{
		CustomerID: id,
		Fields:     []ledgerdomain.FieldDrift{{Field: "pending_balance", Expected: "10.00", Actual: "12.00"}},
	}
}

func TestReconcileReportsDriftWithoutCorrecting(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, registry, Config{EnabledJobs: []string{JobReconcile}})
	ledger := &mockLedger{}
	ledger.On("VerifyAll", mock.Anything).Return(ledgerservice.VerifyReport{
		Checked: 4,
		Drifted: []*ledgerdomain.ConsistencyError{drift(11)},
	}, nil)
	s.ledger = ledger

	require.NoError(t, s.RunOnce(context.Background()))

	ledger.AssertNotCalled(t, "RebuildCustomer", mock.Anything, mock.Anything)
	labels := map[string]string{"service": "test", "env": "test"}
	assert.Equal(t, 4.0, getCounterValue(t, registry, "balancebook_reconcile_customers_checked_total", labels))
	assert.Equal(t, 1.0, getCounterValue(t, registry, "balancebook_reconcile_drift_total",
		map[string]string{"service": "test", "env": "test", "field": "pending_balance"}))
}

func TestReconcileAutoCorrectRebuildsDriftedCustomers(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, registry, Config{AutoCorrect: true, EnabledJobs: []string{JobReconcile}})
	ledger := &mockLedger{}
	ledger.On("VerifyAll", mock.Anything).Return(ledgerservice.VerifyReport{
		Checked: 3,
		Drifted: []*ledgerdomain.ConsistencyError{drift(11), drift(12)},
	}, nil)
	ledger.On("RebuildCustomer", mock.Anything, "11").Return(nil)
	ledger.On("RebuildCustomer", mock.Anything, "12").Return(errors.New("db down"))
	s.ledger = ledger
	audit := &mockAudit{}
	audit.On("AuditLog", "system", "ledger.autocorrect", "customer", "11").Return(nil).Once()
	s.audit = audit

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile: rebuild 12: db down")

	ledger.AssertExpectations(t)
	audit.AssertExpectations(t)
	assert.Equal(t, 1.0, getCounterValue(t, registry, "balancebook_reconcile_corrected_total",
		map[string]string{"service": "test", "env": "test"}))
}

func TestPurgeIdempotencyUsesRetention(t *testing.T) {
	db := dbtest.Open(t, &idempotency.Record{})
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	store := idempotency.NewStore(idempotency.StoreParams{DB: db, Clock: clk})
	ctx := context.Background()

	_, err := store.Begin(ctx, "old", "a@example.com", "h1", "POST", "/api/payments")
	require.NoError(t, err)
	clk.Advance(20 * time.Hour)
	_, err = store.Begin(ctx, "fresh", "a@example.com", "h2", "POST", "/api/payments")
	require.NoError(t, err)
	clk.Advance(6 * time.Hour)

	s := newTestScheduler(t, prometheus.NewRegistry(), Config{
		IdempotencyRetention: 24 * time.Hour,
		EnabledJobs:          []string{JobPurgeIdempotency},
	})
	s.clock = clk
	s.idempotency = store

	require.NoError(t, s.RunOnce(ctx))

	var keys []string
	require.NoError(t, db.Model(&idempotency.Record{}).Pluck("key", &keys).Error)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestPurgeWithoutStoreIsNoop(t *testing.T) {
	s := newTestScheduler(t, prometheus.NewRegistry(), Config{EnabledJobs: []string{JobPurgeIdempotency}})
	assert.NoError(t, s.RunOnce(context.Background()))
}
