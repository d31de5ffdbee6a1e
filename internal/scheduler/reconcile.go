package scheduler

import (
	"context"
	"errors"
	"fmt"

	auditdomain "github.com/smallbiznis/balancebook/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/balancebook/internal/ledger/domain"
	"go.uber.org/zap"
)

// ReconcileJob compares every customer aggregate with one rebuilt from
// history. Drifted customers are logged and counted; with AutoCorrect they
// are rebuilt in place.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	report, err := s.ledger.VerifyAll(ctx)
	s.metrics.AddChecked(report.Checked)
	run.AddProcessed(report.Checked)
	s.metrics.SetLastDrifted(len(report.Drifted))

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("verify: %w", err))
	}

	log := s.logger(ctx)
	for _, drift := range report.Drifted {
		for _, field := range drift.Fields {
			s.metrics.IncDrift(field.Field)
		}
		log.Warn("ledger drift detected",
			zap.String("customer_id", drift.CustomerID.String()),
			zap.Error(drift),
		)
		if !s.cfg.AutoCorrect {
			continue
		}
		if _, err := s.ledger.RebuildCustomer(ctx, drift.CustomerID.String()); err != nil {
			run.IncError()
			errs = append(errs, fmt.Errorf("rebuild %s: %w", drift.CustomerID, err))
			continue
		}
		s.metrics.IncCorrected()
		log.Info("ledger drift corrected", zap.String("customer_id", drift.CustomerID.String()))
		s.auditCorrection(ctx, drift)
	}
	return errors.Join(errs...)
}

// PurgeIdempotencyJob drops stored responses older than the retention.
func (s *Scheduler) PurgeIdempotencyJob(ctx context.Context) error {
	if s.idempotency == nil {
		return nil
	}
	cutoff := s.clock.Now().Add(-s.cfg.IdempotencyRetention)
	n, err := s.idempotency.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	jobRunFromContext(ctx).AddProcessed(int(n))
	if n > 0 {
		s.logger(ctx).Info("idempotency keys purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return nil
}

func (s *Scheduler) auditCorrection(ctx context.Context, drift *ledgerdomain.ConsistencyError) {
	if s.audit == nil {
		return
	}
	fields := make(map[string]any, len(drift.Fields))
	for _, f := range drift.Fields {
		fields[f.Field] = map[string]any{"expected": f.Expected, "actual": f.Actual}
	}
	targetID := drift.CustomerID.String()
	_ = s.audit.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, "ledger.autocorrect", "customer", &targetID, map[string]any{
		"fields": fields,
	})
}
