// Package postgres implements the PostgreSQL persistence collaborator.
package postgres

import (
	"context"
	"fmt"

	"github.com/guildhaven/guild-haven-bot/internal/domain/rank"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK THRESHOLD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdRepository implements rank.ThresholdSource for PostgreSQL.
type ThresholdRepository struct {
	conn *Connection
}

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(conn *Connection) *ThresholdRepository {
	return &ThresholdRepository{conn: conn}
}

// Thresholds returns the rank thresholds configured for a guild,
// ordered by level ascending.
func (r *ThresholdRepository) Thresholds(ctx context.Context, guildID shared.GuildID) ([]rank.Threshold, error) {
	query := `
		SELECT guild_id, level, role_ref, superseded_by
		FROM rank_thresholds
		WHERE guild_id = $1
		ORDER BY level ASC
	`

	rows, err := r.conn.Query(ctx, query, guildID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	var result []rank.Threshold
	for rows.Next() {
		var (
			t            rank.Threshold
			guild        string
			role         string
			supersededBy string
		)
		if err := rows.Scan(&guild, &t.Level, &role, &supersededBy); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		t.GuildID = shared.GuildID(guild)
		t.Role = shared.RoleRef(role)
		t.SupersededBy = shared.RoleRef(supersededBy)
		result = append(result, t)
	}
	return result, rows.Err()
}

// Upsert stores or replaces a threshold. Used by guild configuration tooling.
func (r *ThresholdRepository) Upsert(ctx context.Context, t rank.Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO rank_thresholds (guild_id, level, role_ref, superseded_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, role_ref) DO UPDATE SET
			level = EXCLUDED.level,
			superseded_by = EXCLUDED.superseded_by
	`

	_, err := r.conn.Exec(ctx, query,
		t.GuildID.String(), t.Level, t.Role.String(), t.SupersededBy.String())
	if err != nil {
		return fmt.Errorf("failed to upsert threshold: %w", err)
	}
	return nil
}

// Delete removes a threshold.
func (r *ThresholdRepository) Delete(ctx context.Context, guildID shared.GuildID, role shared.RoleRef) error {
	query := `DELETE FROM rank_thresholds WHERE guild_id = $1 AND role_ref = $2`
	if _, err := r.conn.Exec(ctx, query, guildID.String(), role.String()); err != nil {
		return fmt.Errorf("failed to delete threshold: %w", err)
	}
	return nil
}
