// Package postgres implements the PostgreSQL persistence collaborator.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GrantRepository implements grant.Repository for PostgreSQL.
type GrantRepository struct {
	conn *Connection
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(conn *Connection) *GrantRepository {
	return &GrantRepository{conn: conn}
}

// Insert stores a new grant.
func (r *GrantRepository) Insert(ctx context.Context, g *grant.TemporalGrant) error {
	query := `
		INSERT INTO temporal_grants (id, guild_id, member_id, kind, payload, granted_at, expire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	payloadJSON, err := json.Marshal(g.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal grant payload: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		g.ID,
		g.GuildID.String(),
		g.MemberID.String(),
		g.Kind.String(),
		payloadJSON,
		g.GrantedAt,
		g.ExpireAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

// Delete removes a grant by ID.
func (r *GrantRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM temporal_grants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// GetByID returns a grant by ID.
func (r *GrantRepository) GetByID(ctx context.Context, id string) (*grant.TemporalGrant, error) {
	query := grantSelect + ` WHERE id = $1`

	g, err := scanGrant(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to read grant: %w", err)
	}
	return g, nil
}

// ListGrants returns grants filtered by guild and kind.
func (r *GrantRepository) ListGrants(ctx context.Context, guildID shared.GuildID, kind grant.Kind) ([]*grant.TemporalGrant, error) {
	query := grantSelect + `
		WHERE ($1 = '' OR guild_id = $1)
		  AND ($2 = '' OR kind = $2)
		ORDER BY granted_at ASC
	`

	rows, err := r.conn.Query(ctx, query, guildID.String(), kind.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	return collectGrants(rows)
}

// ListExpired returns all grants with a non-nil expiry at or before now.
func (r *GrantRepository) ListExpired(ctx context.Context, now time.Time) ([]*grant.TemporalGrant, error) {
	query := grantSelect + `
		WHERE expire_at IS NOT NULL AND expire_at <= $1
		ORDER BY expire_at ASC
	`

	rows, err := r.conn.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired grants: %w", err)
	}
	defer rows.Close()

	return collectGrants(rows)
}

// ReadMultiplier returns the multiplier grant for a (guild, member) pair.
func (r *GrantRepository) ReadMultiplier(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (*grant.TemporalGrant, error) {
	query := grantSelect + `
		WHERE guild_id = $1 AND member_id = $2 AND kind = $3
	`

	g, err := scanGrant(r.conn.QueryRow(ctx, query, guildID.String(), memberID.String(), grant.KindMultiplier.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to read multiplier: %w", err)
	}
	return g, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

const grantSelect = `
	SELECT id, guild_id, member_id, kind, payload, granted_at, expire_at
	FROM temporal_grants`

func scanGrant(row pgx.Row) (*grant.TemporalGrant, error) {
	var (
		g           grant.TemporalGrant
		guildID     string
		memberID    string
		kind        string
		payloadJSON []byte
	)

	err := row.Scan(&g.ID, &guildID, &memberID, &kind, &payloadJSON, &g.GrantedAt, &g.ExpireAt)
	if err != nil {
		return nil, err
	}

	g.GuildID = shared.GuildID(guildID)
	g.MemberID = shared.MemberID(memberID)
	g.Kind = grant.Kind(kind)

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &g.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grant payload: %w", err)
		}
	}
	return &g, nil
}

func collectGrants(rows pgx.Rows) ([]*grant.TemporalGrant, error) {
	var result []*grant.TemporalGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}
