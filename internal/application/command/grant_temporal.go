// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT / REVOKE TEMPORAL COMMANDS
// Entry points over the temporal grant registry for the rest of the
// application: temporary roles, blocked-applicant entries, multipliers.
// ══════════════════════════════════════════════════════════════════════════════

// GrantTemporalCommand creates a time-bounded grant.
type GrantTemporalCommand struct {
	// GuildID is the scope of the grant.
	GuildID shared.GuildID

	// MemberID is the subject. Empty only for scope-wide multipliers.
	MemberID shared.MemberID

	// Kind selects the grant variant.
	Kind grant.Kind

	// Role is the role to grant (temp-role kind).
	Role shared.RoleRef

	// Reason is the moderation reason (block-entry kind).
	Reason string

	// Magnitude is the gain factor (multiplier kind).
	Magnitude int

	// Duration is the grant term. Nil means never-expiring, which the
	// block-entry kind uses when no term is given.
	Duration *time.Duration

	// DurationDays is a convenience alternative to Duration for the
	// block-entry kind, whose moderation surface speaks in days.
	DurationDays int
}

// Validate validates the command.
func (c GrantTemporalCommand) Validate() error {
	if !c.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}
	if !c.Kind.IsValid() {
		return shared.ErrUnknownGrantKind
	}

	switch c.Kind {
	case grant.KindTempRole:
		if !c.MemberID.IsValid() {
			return shared.ErrInvalidMemberID
		}
		if !c.Role.IsValid() {
			return shared.ErrInvalidThreshold
		}
		if c.Duration == nil {
			return shared.NewDomainError("grant", "Validate", shared.ErrInvalidInput,
				"temp-role grants require a duration")
		}
	case grant.KindBlockEntry:
		if !c.MemberID.IsValid() {
			return shared.ErrInvalidMemberID
		}
	case grant.KindMultiplier:
		if c.MemberID != "" && !c.MemberID.IsValid() {
			return shared.ErrInvalidMemberID
		}
		if c.Magnitude < 1 {
			return shared.ErrInvalidMagnitude
		}
	}
	return nil
}

// payload builds the kind-specific payload.
func (c GrantTemporalCommand) payload() map[string]interface{} {
	switch c.Kind {
	case grant.KindTempRole:
		return grant.TempRolePayload(c.Role)
	case grant.KindBlockEntry:
		return grant.BlockEntryPayload(c.Reason)
	case grant.KindMultiplier:
		return grant.MultiplierPayload(c.Magnitude)
	}
	return nil
}

// duration resolves the effective term, folding DurationDays in.
func (c GrantTemporalCommand) duration() *time.Duration {
	if c.Duration != nil {
		return c.Duration
	}
	if c.DurationDays > 0 {
		d := time.Duration(c.DurationDays) * 24 * time.Hour
		return &d
	}
	return nil
}

// GrantTemporalHandler creates and revokes temporal grants.
type GrantTemporalHandler struct {
	registry *grant.Registry
	cache    CacheInvalidator
	logger   *slog.Logger
}

// NewGrantTemporalHandler wires the handler.
func NewGrantTemporalHandler(registry *grant.Registry, cache CacheInvalidator, logger *slog.Logger) *GrantTemporalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantTemporalHandler{
		registry: registry,
		cache:    cache,
		logger:   logger.With("component", "grant_temporal"),
	}
}

// Handle creates a grant and returns its ID. Grant-status reads for the
// guild are invalidated so block checks never serve pre-grant state.
func (h *GrantTemporalHandler) Handle(ctx context.Context, cmd GrantTemporalCommand) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	grantID, err := h.registry.Grant(ctx, cmd.GuildID, cmd.MemberID, cmd.Kind, cmd.payload(), cmd.duration())
	if err != nil {
		return "", err
	}

	h.invalidate(ctx, cmd.GuildID)
	return grantID, nil
}

// Revoke deletes a grant early, triggering its side-effect handler.
func (h *GrantTemporalHandler) Revoke(ctx context.Context, guildID shared.GuildID, grantID string) error {
	if err := h.registry.Revoke(ctx, grantID); err != nil {
		return err
	}
	h.invalidate(ctx, guildID)
	return nil
}

func (h *GrantTemporalHandler) invalidate(ctx context.Context, guildID shared.GuildID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateScope(ctx, guildID); err != nil {
		h.logger.Warn("cache invalidation failed after grant change",
			"guild_id", guildID.String(), "error", err)
	}
}
