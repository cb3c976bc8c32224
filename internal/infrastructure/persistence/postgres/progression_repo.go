// Package postgres implements the PostgreSQL persistence collaborator.
package postgres

import (
	"fmt"

	"context"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

// ReadProgression returns the row for a member.
func (r *ProgressionRepository) ReadProgression(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (*progression.Progression, error) {
	query := `
		SELECT guild_id, member_id, experience, level, current_level_xp,
		       next_level_xp, remaining_xp, rank, updated_at
		FROM member_progressions
		WHERE guild_id = $1 AND member_id = $2
	`

	row := r.conn.QueryRow(ctx, query, guildID.String(), memberID.String())
	p, err := scanProgression(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressionNotFound
		}
		return nil, fmt.Errorf("failed to read progression: %w", err)
	}
	return p, nil
}

// WriteProgression upserts a row, derived projection included.
func (r *ProgressionRepository) WriteProgression(ctx context.Context, p *progression.Progression) error {
	query := `
		INSERT INTO member_progressions (
			guild_id, member_id, experience, level, current_level_xp,
			next_level_xp, remaining_xp, rank, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (guild_id, member_id) DO UPDATE SET
			experience = EXCLUDED.experience,
			level = EXCLUDED.level,
			current_level_xp = EXCLUDED.current_level_xp,
			next_level_xp = EXCLUDED.next_level_xp,
			remaining_xp = EXCLUDED.remaining_xp,
			rank = EXCLUDED.rank,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		p.GuildID.String(),
		p.MemberID.String(),
		p.Experience.Int64(),
		p.Level,
		p.CurrentLevelExp.Int64(),
		p.NextLevelExp.Int64(),
		p.RemainingExp.Int64(),
		p.Rank,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write progression: %w", err)
	}
	return nil
}

// TopByExperience returns the guild's rows ordered by experience descending.
func (r *ProgressionRepository) TopByExperience(ctx context.Context, guildID shared.GuildID, limit, offset int) ([]*progression.Progression, error) {
	query := `
		SELECT guild_id, member_id, experience, level, current_level_xp,
		       next_level_xp, remaining_xp, rank, updated_at
		FROM member_progressions
		WHERE guild_id = $1
		ORDER BY experience DESC, member_id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.conn.Query(ctx, query, guildID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var result []*progression.Progression
	for rows.Next() {
		p, err := scanProgression(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progression: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DistinctGuilds returns every guild with at least one row.
func (r *ProgressionRepository) DistinctGuilds(ctx context.Context) ([]shared.GuildID, error) {
	query := `SELECT DISTINCT guild_id FROM member_progressions ORDER BY guild_id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query guilds: %w", err)
	}
	defer rows.Close()

	var result []shared.GuildID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan guild id: %w", err)
		}
		result = append(result, shared.GuildID(id))
	}
	return result, rows.Err()
}

// scanProgression scans one progression row.
func scanProgression(row pgx.Row) (*progression.Progression, error) {
	var (
		p          progression.Progression
		guildID    string
		memberID   string
		experience int64
		current    int64
		next       int64
		remaining  int64
	)

	err := row.Scan(
		&guildID,
		&memberID,
		&experience,
		&p.Level,
		&current,
		&next,
		&remaining,
		&p.Rank,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.GuildID = shared.GuildID(guildID)
	p.MemberID = shared.MemberID(memberID)
	p.Experience = shared.XP(experience)
	p.CurrentLevelExp = shared.XP(current)
	p.NextLevelExp = shared.XP(next)
	p.RemainingExp = shared.XP(remaining)
	return &p, nil
}
