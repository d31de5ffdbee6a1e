package scheduler

import (
	"time"

	"github.com/smallbiznis/balancebook/internal/config"
)

const (
	JobReconcile        = "reconcile"
	JobPurgeIdempotency = "purge_idempotency"
)

// Config controls scheduler intervals and job limits.
type Config struct {
	RunInterval          time.Duration
	ReconcileTimeout     time.Duration
	AutoCorrect          bool
	IdempotencyRetention time.Duration
	PurgeTimeout         time.Duration
	// EnabledJobs restricts the run to the named jobs. Empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          15 * time.Minute,
		ReconcileTimeout:     2 * time.Minute,
		IdempotencyRetention: 24 * time.Hour,
		PurgeTimeout:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	if c.IdempotencyRetention <= 0 {
		c.IdempotencyRetention = defaults.IdempotencyRetention
	}
	if c.PurgeTimeout <= 0 {
		c.PurgeTimeout = defaults.PurgeTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:          cfg.Reconcile.Interval,
		ReconcileTimeout:     cfg.Reconcile.Timeout,
		AutoCorrect:          cfg.Reconcile.AutoCorrect,
		IdempotencyRetention: cfg.IdempotencyRetention,
	}
}
