// Package eventhandler contains the domain event handlers. They are the
// reactive part of the system: they react to state changes published on the
// event bus and run the side effects, such as syncing guild roles or
// refreshing caches.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/rank"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// GRANT SIDE-EFFECT HANDLERS
// One handler per grant kind, registered on the grant registry. OnRemove must
// be idempotent: the sweep retries failed grants on the next pass, so a
// handler may run again after a partial failure.
// ═══════════════════════════════════════════════════════════════════════════

// TempRoleEffect removes the granted role when a temp-role grant ends.
type TempRoleEffect struct {
	roles  rank.RoleMutator
	logger *slog.Logger
}

// NewTempRoleEffect creates the temp-role side-effect handler.
func NewTempRoleEffect(roles rank.RoleMutator, logger *slog.Logger) *TempRoleEffect {
	if logger == nil {
		logger = slog.Default()
	}
	return &TempRoleEffect{
		roles:  roles,
		logger: logger.With("handler", "temp_role_effect"),
	}
}

// Kind implements grant.SideEffectHandler.
func (h *TempRoleEffect) Kind() grant.Kind {
	return grant.KindTempRole
}

// OnApply assigns the role carried by the grant. Assigning a role the member
// already holds succeeds, so a retried creation stays idempotent. A failure
// here makes the registry roll the grant back.
func (h *TempRoleEffect) OnApply(ctx context.Context, g *grant.TemporalGrant) error {
	role := g.RoleRef()
	if role == "" {
		return fmt.Errorf("temp-role grant %s has no role_ref payload", g.ID)
	}

	if err := h.roles.GrantRole(ctx, g.GuildID, g.MemberID, role, "temporary role grant"); err != nil {
		return fmt.Errorf("assign temp role %s: %w", role.String(), err)
	}

	h.logger.Info("temporary role assigned",
		"guild_id", g.GuildID.String(),
		"member_id", g.MemberID.String(),
		"role", role.String(),
	)
	return nil
}

// OnRemove revokes the role carried by the grant. Revoking a role the member
// no longer holds succeeds, which makes the retry idempotent.
func (h *TempRoleEffect) OnRemove(ctx context.Context, g *grant.TemporalGrant, reason grant.RemovalReason) error {
	role := g.RoleRef()
	if role == "" {
		// Malformed payload; nothing to undo.
		h.logger.Warn("temp-role grant without role_ref payload", "grant_id", g.ID)
		return nil
	}

	why := fmt.Sprintf("temporary role %s", reason)
	if err := h.roles.RevokeRole(ctx, g.GuildID, g.MemberID, role, why); err != nil {
		return fmt.Errorf("revoke temp role %s: %w", role.String(), err)
	}

	h.logger.Info("temporary role removed",
		"guild_id", g.GuildID.String(),
		"member_id", g.MemberID.String(),
		"role", role.String(),
		"reason", string(reason),
	)
	return nil
}

// StatusInvalidator invalidates per-guild status reads.
type StatusInvalidator interface {
	InvalidateScope(ctx context.Context, guildID shared.GuildID) error
}

// BlockEntryEffect clears cached block state when a block-entry grant ends.
// The block itself has no external footprint to undo: its force comes from
// reads checking for an active grant.
type BlockEntryEffect struct {
	cache  StatusInvalidator
	logger *slog.Logger
}

// NewBlockEntryEffect creates the block-entry side-effect handler.
func NewBlockEntryEffect(cache StatusInvalidator, logger *slog.Logger) *BlockEntryEffect {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockEntryEffect{
		cache:  cache,
		logger: logger.With("handler", "block_entry_effect"),
	}
}

// Kind implements grant.SideEffectHandler.
func (h *BlockEntryEffect) Kind() grant.Kind {
	return grant.KindBlockEntry
}

// OnRemove drops the guild's cached status so block checks stop seeing the
// entry immediately instead of after the cache TTL.
func (h *BlockEntryEffect) OnRemove(ctx context.Context, g *grant.TemporalGrant, reason grant.RemovalReason) error {
	if h.cache == nil {
		return nil
	}
	if err := h.cache.InvalidateScope(ctx, g.GuildID); err != nil {
		// Stale-for-TTL is acceptable; do not fail the removal over it.
		h.logger.Warn("status invalidation failed after block removal",
			"guild_id", g.GuildID.String(), "error", err)
	}
	return nil
}
