// Package grant contains the temporal-grant domain model: time-bounded facts
// (temporary roles, block-list entries, experience multipliers) tracked by a
// generic registry with periodic expiry sweeping.
package grant

import (
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind tags the variant of a temporal grant. Each kind has exactly one
// side-effect handler registered at startup.
type Kind string

const (
	// KindTempRole - a role granted for a limited time.
	KindTempRole Kind = "temp_role"

	// KindBlockEntry - a blocked-applicant entry, optionally indefinite.
	KindBlockEntry Kind = "block_entry"

	// KindMultiplier - an experience gain multiplier.
	KindMultiplier Kind = "multiplier"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindTempRole, KindBlockEntry, KindMultiplier:
		return true
	}
	return false
}

// String returns the string representation.
func (k Kind) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// TEMPORAL GRANT
// ══════════════════════════════════════════════════════════════════════════════

// TemporalGrant is a time-bounded fact. Grants are immutable once created:
// they are only ever deleted, either by the sweep once expired or by an
// explicit early revoke.
type TemporalGrant struct {
	// ID is the unique grant identifier.
	ID string

	// GuildID is the scope of the grant.
	GuildID shared.GuildID

	// MemberID is the subject. Empty for scope-wide grants
	// (only the multiplier kind supports scope-wide application).
	MemberID shared.MemberID

	// Kind selects the side-effect handler.
	Kind Kind

	// Payload carries kind-specific data (role ref, block reason,
	// multiplier magnitude). Serialized as JSON by the persistence layer.
	Payload map[string]interface{}

	// GrantedAt is the creation time.
	GrantedAt time.Time

	// ExpireAt is GrantedAt plus the requested duration.
	// Nil means the grant never expires and is ignored by the sweep.
	ExpireAt *time.Time
}

// newGrant builds a grant with a fresh ID and a derived expiry.
func newGrant(guildID shared.GuildID, memberID shared.MemberID, kind Kind, payload map[string]interface{}, duration *time.Duration, now time.Time) *TemporalGrant {
	g := &TemporalGrant{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		MemberID:  memberID,
		Kind:      kind,
		Payload:   payload,
		GrantedAt: now,
	}
	if duration != nil {
		expireAt := now.Add(*duration)
		g.ExpireAt = &expireAt
	}
	return g
}

// Expired reports whether the grant's expiry has passed.
// Never-expiring grants are never expired.
func (g *TemporalGrant) Expired(now time.Time) bool {
	return g.ExpireAt != nil && !now.Before(*g.ExpireAt)
}

// RoleRef returns the payload role reference for temp-role grants.
func (g *TemporalGrant) RoleRef() shared.RoleRef {
	if v, ok := g.Payload["role_ref"].(string); ok {
		return shared.RoleRef(v)
	}
	return ""
}

// Reason returns the payload reason for block-entry grants.
func (g *TemporalGrant) Reason() string {
	if v, ok := g.Payload["reason"].(string); ok {
		return v
	}
	return ""
}

// Magnitude returns the payload magnitude for multiplier grants.
// Anything malformed reads as the neutral factor 1.
func (g *TemporalGrant) Magnitude() int {
	switch v := g.Payload["magnitude"].(type) {
	case int:
		if v >= 1 {
			return v
		}
	case float64: // JSON round trip decodes numbers as float64
		if v >= 1 {
			return int(v)
		}
	}
	return 1
}

// ScopeWide reports whether the grant applies to the whole guild rather
// than to a single member. Derived: an empty member ID means scope-wide.
func (g *TemporalGrant) ScopeWide() bool {
	return g.MemberID == ""
}

// ActiveMultiplier reports whether a multiplier grant currently affects
// gain: magnitude above 1 and not yet expired.
func (g *TemporalGrant) ActiveMultiplier(now time.Time) bool {
	return g.Kind == KindMultiplier && g.Magnitude() > 1 && !g.Expired(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD CONSTRUCTORS
// ══════════════════════════════════════════════════════════════════════════════

// TempRolePayload builds the payload for a temp-role grant.
func TempRolePayload(role shared.RoleRef) map[string]interface{} {
	return map[string]interface{}{"role_ref": role.String()}
}

// BlockEntryPayload builds the payload for a block-entry grant.
func BlockEntryPayload(reason string) map[string]interface{} {
	return map[string]interface{}{"reason": reason}
}

// MultiplierPayload builds the payload for a multiplier grant.
func MultiplierPayload(magnitude int) map[string]interface{} {
	return map[string]interface{}{"magnitude": magnitude}
}
