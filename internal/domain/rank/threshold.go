// Package rank contains the rank-role domain model: per-guild level
// thresholds and the synchronizer that diffs a member's desired role set
// against the roles they actually hold.
package rank

import (
	"context"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// Threshold binds a guild role to the level at which it is earned.
// Thresholds are static-ish per-guild configuration, read-only to the engine.
type Threshold struct {
	// GuildID is the guild the threshold belongs to.
	GuildID shared.GuildID

	// Level is the level at which the role is earned.
	Level int

	// Role is the role granted at this level.
	Role shared.RoleRef

	// SupersededBy optionally names the role of a higher tier that
	// replaces this one. Earned tiers are additive by default; revocation
	// on leveling further happens only when this is set and the member
	// has earned the superseding tier.
	SupersededBy shared.RoleRef
}

// Validate checks the threshold configuration.
func (t Threshold) Validate() error {
	if !t.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}
	if t.Level < 1 || !t.Role.IsValid() {
		return shared.ErrInvalidThreshold
	}
	return nil
}

// ThresholdSource supplies the rank thresholds configured for a guild.
// Implementations live in the infrastructure layer.
type ThresholdSource interface {
	Thresholds(ctx context.Context, guildID shared.GuildID) ([]Threshold, error)
}

// RoleMutator is the external role-mutation collaborator.
type RoleMutator interface {
	// GrantRole assigns a role to a member.
	GrantRole(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, role shared.RoleRef, reason string) error

	// RevokeRole removes a role from a member. Removing a role the member
	// does not hold must succeed (idempotent).
	RevokeRole(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, role shared.RoleRef, reason string) error

	// CurrentRoles returns the roles the member currently holds.
	CurrentRoles(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) ([]shared.RoleRef, error)
}
