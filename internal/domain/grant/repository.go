package grant

import (
	"context"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// Repository is the persistence collaborator for temporal grants.
// Implementations live in the infrastructure layer.
type Repository interface {
	// Insert stores a new grant.
	Insert(ctx context.Context, g *TemporalGrant) error

	// Delete removes a grant by ID. Deleting an absent grant is not an error.
	Delete(ctx context.Context, id string) error

	// GetByID returns a grant by ID.
	// Returns shared.ErrGrantNotFound when no such grant exists.
	GetByID(ctx context.Context, id string) (*TemporalGrant, error)

	// ListGrants returns grants filtered by guild and kind.
	// An empty guild ID or kind matches everything.
	ListGrants(ctx context.Context, guildID shared.GuildID, kind Kind) ([]*TemporalGrant, error)

	// ListExpired returns all grants with a non-nil expiry at or before now,
	// across all guilds and kinds. The sweep consumes this snapshot.
	ListExpired(ctx context.Context, now time.Time) ([]*TemporalGrant, error)

	// ReadMultiplier returns the multiplier grant for a (guild, member) pair.
	// An empty member ID selects the scope-wide multiplier.
	// Returns shared.ErrGrantNotFound when none exists.
	ReadMultiplier(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (*TemporalGrant, error)
}
