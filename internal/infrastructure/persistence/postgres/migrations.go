// Package postgres implements the PostgreSQL persistence collaborator.
package postgres

import (
	"context"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: MEMBER PROGRESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create member_progressions table
-- Version: 001

CREATE TABLE IF NOT EXISTS member_progressions (
    guild_id VARCHAR(20) NOT NULL,
    member_id VARCHAR(20) NOT NULL,
    experience BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_level_xp BIGINT NOT NULL DEFAULT 0,
    next_level_xp BIGINT NOT NULL DEFAULT 0,
    remaining_xp BIGINT NOT NULL DEFAULT 0,
    rank INTEGER,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (guild_id, member_id),

    -- level and the *_xp columns are a cached projection of experience;
    -- constraints guard the authoritative column only
    CONSTRAINT valid_experience CHECK (experience >= 0),
    CONSTRAINT valid_level CHECK (level >= 1)
);

-- Leaderboard reads order by experience within a guild
CREATE INDEX IF NOT EXISTS idx_progressions_guild_xp
    ON member_progressions(guild_id, experience DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS member_progressions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: TEMPORAL GRANTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create temporal_grants table
-- Version: 002

CREATE TABLE IF NOT EXISTS temporal_grants (
    id UUID PRIMARY KEY,
    guild_id VARCHAR(20) NOT NULL,
    -- empty member_id means the grant is scope-wide (multipliers only)
    member_id VARCHAR(20) NOT NULL DEFAULT '',
    kind VARCHAR(20) NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    -- NULL expire_at means the grant never expires
    expire_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_kind CHECK (kind IN ('temp_role', 'block_entry', 'multiplier'))
);

-- The sweep scans only expiring grants
CREATE INDEX IF NOT EXISTS idx_grants_expire_at
    ON temporal_grants(expire_at) WHERE expire_at IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_grants_guild_kind
    ON temporal_grants(guild_id, kind);

-- At most one multiplier per (guild, member) pair
CREATE UNIQUE INDEX IF NOT EXISTS uq_grants_multiplier_pair
    ON temporal_grants(guild_id, member_id) WHERE kind = 'multiplier';
`

const migration002Down = `
DROP TABLE IF EXISTS temporal_grants;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: RANK THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create rank_thresholds table
-- Version: 003

CREATE TABLE IF NOT EXISTS rank_thresholds (
    guild_id VARCHAR(20) NOT NULL,
    level INTEGER NOT NULL,
    role_ref VARCHAR(20) NOT NULL,
    -- role of the higher tier that supersedes this one; empty = additive tier
    superseded_by VARCHAR(20) NOT NULL DEFAULT '',

    PRIMARY KEY (guild_id, role_ref),

    CONSTRAINT valid_threshold_level CHECK (level >= 1)
);

CREATE INDEX IF NOT EXISTS idx_thresholds_guild_level
    ON rank_thresholds(guild_id, level);
`

const migration003Down = `
DROP TABLE IF EXISTS rank_thresholds;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION RUNNER
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_member_progressions", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_temporal_grants", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_rank_thresholds", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: create tracking table: %v", ErrMigrationFailed, err)
	}
	return nil
}

// AppliedVersions returns the set of applied migration versions.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: read applied versions: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("%w: scan version: %v", ErrMigrationFailed, err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in version order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		if _, err := m.conn.Exec(ctx, migration.UpSQL); err != nil {
			return fmt.Errorf("%w: %s (version %d): %v",
				ErrMigrationFailed, migration.Name, migration.Version, err)
		}

		record := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
		if _, err := m.conn.Exec(ctx, record, migration.Version, migration.Name); err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrMigrationFailed, migration.Name, err)
		}
	}
	return nil
}

// Status returns every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}
	return result, nil
}
