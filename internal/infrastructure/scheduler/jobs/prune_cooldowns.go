// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"log/slog"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRUNE COOLDOWNS JOB
// ══════════════════════════════════════════════════════════════════════════════

// PruneCooldownsJob drops stale entries from the in-memory cooldown table.
// The gate also prunes lazily when its table grows; this job is the backstop
// that keeps memory flat on quiet deployments where the lazy path never fires.
type PruneCooldownsJob struct {
	gate   *progression.CooldownGate
	logger *slog.Logger
}

// NewPruneCooldownsJob creates the prune job.
func NewPruneCooldownsJob(gate *progression.CooldownGate, logger *slog.Logger) *PruneCooldownsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneCooldownsJob{
		gate:   gate,
		logger: logger,
	}
}

// Name returns the job name.
func (j *PruneCooldownsJob) Name() string {
	return "prune_cooldowns"
}

// Description returns a human-readable description.
func (j *PruneCooldownsJob) Description() string {
	return "Evicts elapsed entries from the cooldown table"
}

// Run executes one prune pass.
func (j *PruneCooldownsJob) Run(_ context.Context) error {
	removed := j.gate.Prune()
	if removed > 0 {
		j.logger.Debug("cooldown table pruned",
			"removed", removed,
			"remaining", j.gate.Size(),
		)
	}
	return nil
}
