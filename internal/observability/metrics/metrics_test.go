package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "apply_payment"),
		attribute.String("customer_id", "456"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_id" {
			t.Fatalf("customer_id must not be a metric label")
		}
	}
}

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("rebuild: %w", context.DeadlineExceeded), want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "42P01"}, want: JobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestReconcileMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcileMetricsForTest(reg)

	m.IncJobRun("reconcile")
	m.IncJobError("reconcile", &pgconn.PgError{Code: "40001"})
	m.AddChecked(3)
	m.IncDrift("pending_balance")
	m.IncDrift("pending_balance")
	m.IncCorrected()
	m.SetLastDrifted(1)
	m.ObserveJobDuration("reconcile", 250*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("reconcile")); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile", JobReasonSerializationFailure)); got != 1 {
		t.Fatalf("expected 1 serialization error, got %v", got)
	}
	if got := testutil.ToFloat64(m.checked); got != 3 {
		t.Fatalf("expected 3 checked, got %v", got)
	}
	if got := testutil.ToFloat64(m.drifted.WithLabelValues("pending_balance")); got != 2 {
		t.Fatalf("expected 2 drift, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastDriftCnt); got != 1 {
		t.Fatalf("expected gauge 1, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordLedgerOperation(context.Background(), "apply_new_order", 10, nil)
	m.RecordLedgerConflict(context.Background(), "apply_payment", "version")

	var r *ReconcileMetrics
	r.IncJobRun("reconcile")
	r.IncDrift("total_spent")
}
