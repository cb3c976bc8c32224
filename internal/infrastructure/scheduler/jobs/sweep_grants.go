// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP GRANTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepGrantsJob removes expired temporal grants and runs their side-effect
// handlers. A grant whose handler fails survives the pass and is retried on
// the next one, so expiry is at-least-once and handlers stay idempotent.
type SweepGrantsJob struct {
	registry *grant.Registry
	logger   *slog.Logger
	config   SweepGrantsConfig
}

// SweepGrantsConfig contains configuration for the sweep job.
type SweepGrantsConfig struct {
	// Timeout is the maximum duration for one sweep pass.
	Timeout time.Duration
}

// DefaultSweepGrantsConfig returns sensible defaults.
func DefaultSweepGrantsConfig() SweepGrantsConfig {
	return SweepGrantsConfig{
		Timeout: 2 * time.Minute,
	}
}

// NewSweepGrantsJob creates the sweep job.
func NewSweepGrantsJob(registry *grant.Registry, logger *slog.Logger, config SweepGrantsConfig) *SweepGrantsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepGrantsConfig().Timeout
	}

	return &SweepGrantsJob{
		registry: registry,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *SweepGrantsJob) Name() string {
	return "sweep_grants"
}

// Description returns a human-readable description.
func (j *SweepGrantsJob) Description() string {
	return "Removes expired temporal grants and undoes their side effects"
}

// Run executes one sweep pass.
func (j *SweepGrantsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result, err := j.registry.Sweep(ctx)
	if err != nil {
		return err
	}

	if result.Scanned > 0 {
		j.logger.Info("grant sweep pass finished",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"failed", result.Failed,
		)
	}

	return nil
}
