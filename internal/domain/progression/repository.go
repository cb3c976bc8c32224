package progression

import (
	"context"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// Repository is the persistence collaborator for progression rows.
// Implementations live in the infrastructure layer.
type Repository interface {
	// ReadProgression returns the row for a member.
	// Returns shared.ErrProgressionNotFound when no row exists yet;
	// callers treat that as the zero-experience baseline.
	ReadProgression(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (*Progression, error)

	// WriteProgression upserts a row, derived projection included.
	WriteProgression(ctx context.Context, p *Progression) error

	// TopByExperience returns the guild's rows ordered by experience
	// descending, for leaderboard reads.
	TopByExperience(ctx context.Context, guildID shared.GuildID, limit, offset int) ([]*Progression, error)

	// DistinctGuilds returns every guild that has at least one row,
	// for maintenance jobs that walk the whole data set.
	DistinctGuilds(ctx context.Context) ([]shared.GuildID, error)
}
