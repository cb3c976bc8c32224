// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Snowflake-style identifiers arrive from the gateway as decimal strings.
var idRegex = regexp.MustCompile(`^[0-9]{1,20}$`)

// GuildID identifies the guild (scope) within which progression and grants
// are tracked.
type GuildID string

// IsValid checks if the guild ID has the expected snowflake format.
func (g GuildID) IsValid() bool {
	return idRegex.MatchString(string(g))
}

// String returns the string representation.
func (g GuildID) String() string {
	return string(g)
}

// NewGuildID creates a new GuildID with validation.
func NewGuildID(id string) (GuildID, error) {
	g := GuildID(strings.TrimSpace(id))
	if !g.IsValid() {
		return "", ErrInvalidGuildID
	}
	return g, nil
}

// MemberID identifies the member (subject) a progression row or grant
// applies to.
type MemberID string

// IsValid checks if the member ID has the expected snowflake format.
func (m MemberID) IsValid() bool {
	return idRegex.MatchString(string(m))
}

// String returns the string representation.
func (m MemberID) String() string {
	return string(m)
}

// NewMemberID creates a new MemberID with validation.
func NewMemberID(id string) (MemberID, error) {
	m := MemberID(strings.TrimSpace(id))
	if !m.IsValid() {
		return "", ErrInvalidMemberID
	}
	return m, nil
}

// RoleRef references a guild role managed by the role-mutation collaborator.
type RoleRef string

// IsValid checks if the role reference is non-empty.
func (r RoleRef) IsValid() bool {
	return idRegex.MatchString(string(r))
}

// String returns the string representation.
func (r RoleRef) String() string {
	return string(r)
}

// ═══════════════════════════════════════════════════════════════════════════
// Composite Keys
// ═══════════════════════════════════════════════════════════════════════════

// MemberKey is the composite (guild, member) key used for cooldown state,
// batching, and per-subject serialization.
type MemberKey struct {
	GuildID  GuildID
	MemberID MemberID
}

// NewMemberKey creates a MemberKey from its parts.
func NewMemberKey(guildID GuildID, memberID MemberID) MemberKey {
	return MemberKey{GuildID: guildID, MemberID: memberID}
}

// String returns the "guild:member" representation used as a map/cache key.
func (k MemberKey) String() string {
	return string(k.GuildID) + ":" + string(k.MemberID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Experience
// ═══════════════════════════════════════════════════════════════════════════

// XP represents an experience amount. Totals are never negative; deltas may be.
type XP int64

// Int64 returns the underlying int64 value.
func (x XP) Int64() int64 {
	return int64(x)
}

// IsValid checks that a total XP value is non-negative.
func (x XP) IsValid() bool {
	return x >= 0
}

// Add returns the total after applying a delta, clamped at zero.
func (x XP) Add(delta XP) XP {
	sum := x + delta
	if sum < 0 {
		return 0
	}
	return sum
}
