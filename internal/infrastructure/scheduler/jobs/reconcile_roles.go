// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ROLES JOB
// ══════════════════════════════════════════════════════════════════════════════

// RoleSyncer runs one read-diff-apply rank sync for a member.
type RoleSyncer interface {
	Sync(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, level int) error
}

// ReconcileRolesJob walks every member's progression row and re-syncs their
// rank roles. The level-changed handler does this inline on each level-up;
// this job repairs the drift left behind when the role provider was down or
// roles were edited by hand.
type ReconcileRolesJob struct {
	repo   progression.Repository
	syncer RoleSyncer
	logger *slog.Logger
	config ReconcileRolesConfig
}

// ReconcileRolesConfig contains configuration for the reconcile job.
type ReconcileRolesConfig struct {
	// PageSize is how many rows are loaded per repository call.
	PageSize int

	// Timeout is the maximum duration for one full pass.
	Timeout time.Duration

	// PacingDelay is the pause between members, keeping the pass well
	// under the role provider's rate limits.
	PacingDelay time.Duration
}

// DefaultReconcileRolesConfig returns sensible defaults.
func DefaultReconcileRolesConfig() ReconcileRolesConfig {
	return ReconcileRolesConfig{
		PageSize:    200,
		Timeout:     10 * time.Minute,
		PacingDelay: 50 * time.Millisecond,
	}
}

// NewReconcileRolesJob creates the reconcile job.
func NewReconcileRolesJob(
	repo progression.Repository,
	syncer RoleSyncer,
	logger *slog.Logger,
	config ReconcileRolesConfig,
) *ReconcileRolesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultReconcileRolesConfig().PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReconcileRolesConfig().Timeout
	}

	return &ReconcileRolesJob{
		repo:   repo,
		syncer: syncer,
		logger: logger,
		config: config,
	}
}

// Name returns the job name.
func (j *ReconcileRolesJob) Name() string {
	return "reconcile_roles"
}

// Description returns a human-readable description.
func (j *ReconcileRolesJob) Description() string {
	return "Re-syncs rank roles against persisted levels to repair drift"
}

// Run executes one reconciliation pass over every guild.
func (j *ReconcileRolesJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	guilds, err := j.repo.DistinctGuilds(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}

	var synced, failed int
	for _, guildID := range guilds {
		s, f, err := j.reconcileGuild(ctx, guildID)
		synced += s
		failed += f
		if err != nil {
			return err
		}
	}

	j.logger.Info("role reconciliation pass finished",
		"guilds", len(guilds),
		"synced", synced,
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("reconcile: %d member syncs failed", failed)
	}
	return nil
}

// reconcileGuild pages through one guild's rows. Per-member failures are
// counted and skipped; a context error aborts the pass.
func (j *ReconcileRolesJob) reconcileGuild(ctx context.Context, guildID shared.GuildID) (synced, failed int, err error) {
	for offset := 0; ; offset += j.config.PageSize {
		rows, err := j.repo.TopByExperience(ctx, guildID, j.config.PageSize, offset)
		if err != nil {
			return synced, failed, fmt.Errorf("page guild %s: %w", guildID.String(), err)
		}
		if len(rows) == 0 {
			return synced, failed, nil
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				return synced, failed, ctx.Err()
			}

			if err := j.syncer.Sync(ctx, row.GuildID, row.MemberID, row.Level); err != nil {
				failed++
				j.logger.Warn("member role sync failed",
					"guild_id", row.GuildID.String(),
					"member_id", row.MemberID.String(),
					"error", err,
				)
			} else {
				synced++
			}

			if j.config.PacingDelay > 0 {
				select {
				case <-ctx.Done():
					return synced, failed, ctx.Err()
				case <-time.After(j.config.PacingDelay):
				}
			}
		}

		if len(rows) < j.config.PageSize {
			return synced, failed, nil
		}
	}
}
