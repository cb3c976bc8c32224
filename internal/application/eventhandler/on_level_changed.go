// Package eventhandler contains the domain event handlers. They are the
// reactive part of the system: they react to state changes published on the
// event bus and run the side effects, such as syncing guild roles or
// refreshing caches.
package eventhandler

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/rank"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEVEL CHANGED HANDLER
// Reconciles a member's rank roles after their level changed. The handler
// reads the guild's thresholds, diffs them against the roles the member
// holds, and applies the grants and revokes through the role mutator.
// Two concurrent events for the same member would race on the read-diff-apply
// cycle, so work is serialized per (guild, member) pair.
// ═══════════════════════════════════════════════════════════════════════════

// memberLocks serializes role mutation per member. Striped so a busy guild
// does not allocate a mutex per member.
type memberLocks struct {
	stripes [64]sync.Mutex
}

func (l *memberLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m
}

// LevelChangedConfig contains the handler configuration.
type LevelChangedConfig struct {
	// SyncTimeout bounds one reconciliation pass against the role mutator.
	SyncTimeout time.Duration
}

// DefaultLevelChangedConfig returns the default configuration.
func DefaultLevelChangedConfig() LevelChangedConfig {
	return LevelChangedConfig{
		SyncTimeout: 15 * time.Second,
	}
}

// OnLevelChangedHandler syncs rank roles when a member's level changes.
type OnLevelChangedHandler struct {
	thresholds rank.ThresholdSource
	roles      rank.RoleMutator
	logger     *slog.Logger
	config     LevelChangedConfig
	locks      memberLocks
}

// NewOnLevelChangedHandler creates the handler.
func NewOnLevelChangedHandler(
	thresholds rank.ThresholdSource,
	roles rank.RoleMutator,
	logger *slog.Logger,
	config LevelChangedConfig,
) *OnLevelChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = DefaultLevelChangedConfig().SyncTimeout
	}

	return &OnLevelChangedHandler{
		thresholds: thresholds,
		roles:      roles,
		logger:     logger.With("handler", "on_level_changed"),
		config:     config,
	}
}

// Handle processes a level changed event.
// Implements the shared.EventHandler interface.
func (h *OnLevelChangedHandler) Handle(event shared.Event) error {
	levelEvent, ok := event.(shared.LevelChangedEvent)
	if !ok {
		h.logger.Warn("received non-LevelChangedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SyncTimeout)
	defer cancel()

	guildID := shared.GuildID(levelEvent.GuildID)
	memberID := shared.MemberID(levelEvent.MemberID)

	h.logger.Info("processing level changed event",
		"guild_id", levelEvent.GuildID,
		"member_id", levelEvent.MemberID,
		"old_level", levelEvent.OldLevel,
		"new_level", levelEvent.NewLevel,
	)

	return h.Sync(ctx, guildID, memberID, levelEvent.NewLevel)
}

// Sync runs one read-diff-apply reconciliation for a member. It is also the
// entry point for the periodic reconcile job, which repairs drift left by
// mutator failures here.
func (h *OnLevelChangedHandler) Sync(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, level int) error {
	key := shared.MemberKey{GuildID: guildID, MemberID: memberID}.String()
	mu := h.locks.lock(key)
	defer mu.Unlock()

	thresholds, err := h.thresholds.Thresholds(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load thresholds: %w", err)
	}
	if len(thresholds) == 0 {
		return nil
	}

	current, err := h.roles.CurrentRoles(ctx, guildID, memberID)
	if err != nil {
		return fmt.Errorf("current roles: %w", err)
	}

	plan := rank.BuildPlan(thresholds, level, current)
	if plan.Empty() {
		return nil
	}

	reason := fmt.Sprintf("rank sync: level %d", level)
	var failed int

	// Per-role failures are logged and skipped; the rest of the plan still
	// applies, and the periodic reconcile job closes the remaining gap.
	for _, role := range plan.ToGrant {
		if err := h.roles.GrantRole(ctx, guildID, memberID, role, reason); err != nil {
			failed++
			h.logger.Error("role grant failed",
				"guild_id", guildID.String(),
				"member_id", memberID.String(),
				"role", role.String(),
				"error", err,
			)
		}
	}
	for _, role := range plan.ToRevoke {
		if err := h.roles.RevokeRole(ctx, guildID, memberID, role, reason); err != nil {
			failed++
			h.logger.Error("role revoke failed",
				"guild_id", guildID.String(),
				"member_id", memberID.String(),
				"role", role.String(),
				"error", err,
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("rank sync: %d of %d role mutations failed",
			failed, len(plan.ToGrant)+len(plan.ToRevoke))
	}

	h.logger.Info("rank roles synced",
		"guild_id", guildID.String(),
		"member_id", memberID.String(),
		"granted", len(plan.ToGrant),
		"revoked", len(plan.ToRevoke),
	)

	return nil
}

// EventType returns the event type this handler subscribes to.
func (h *OnLevelChangedHandler) EventType() shared.EventType {
	return shared.EventLevelChanged
}
