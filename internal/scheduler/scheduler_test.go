package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/balancebook/internal/clock"
	obsmetrics "github.com/smallbiznis/balancebook/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, registry *prometheus.Registry, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &Scheduler{
		log:     zap.NewNop(),
		cfg:     cfg.withDefaults(),
		genID:   node,
		clock:   clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
		metrics: obsmetrics.NewReconcileMetricsForTest(registry),
	}
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, registry, Config{})

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "test", "env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "balancebook_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "test",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "balancebook_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsErrorWithJobName(t *testing.T) {
	s := newTestScheduler(t, prometheus.NewRegistry(), Config{})
	boom := errors.New("boom")

	err := s.runJob(context.Background(), "failing", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "failing: boom", err.Error())
}

func TestRunJobSharesRunWithNestedCalls(t *testing.T) {
	s := newTestScheduler(t, prometheus.NewRegistry(), Config{})

	var outer, inner *jobRun
	err := s.runJob(context.Background(), "outer", time.Second, func(ctx context.Context) error {
		outer = jobRunFromContext(ctx)
		return s.runJob(ctx, "inner", time.Second, func(ctx context.Context) error {
			inner = jobRunFromContext(ctx)
			return nil
		})
	})
	require.NoError(t, err)
	require.NotNil(t, outer)
	assert.Same(t, outer, inner)
}

func TestIsJobEnabled(t *testing.T) {
	s := newTestScheduler(t, prometheus.NewRegistry(), Config{})
	assert.True(t, s.isJobEnabled(JobReconcile))

	s.cfg.EnabledJobs = []string{JobPurgeIdempotency}
	assert.False(t, s.isJobEnabled(JobReconcile))
	assert.True(t, s.isJobEnabled(JobPurgeIdempotency))
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
