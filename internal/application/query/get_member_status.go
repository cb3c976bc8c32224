// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/statuscache"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MEMBER STATUS QUERY
// Combined per-member view: progression summary, block state, and active
// grants. Served through the status cache with the short TTL because block
// and grant state go stale the moment moderation acts.
// ══════════════════════════════════════════════════════════════════════════════

// GetMemberStatusQuery identifies the member whose status is requested.
type GetMemberStatusQuery struct {
	GuildID  shared.GuildID
	MemberID shared.MemberID
}

// Validate checks the request parameters.
func (q GetMemberStatusQuery) Validate() error {
	if !q.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}
	if !q.MemberID.IsValid() {
		return shared.ErrInvalidMemberID
	}
	return nil
}

// GrantSummaryDTO is one active grant in the status view.
type GrantSummaryDTO struct {
	// ID of the grant, usable with the revoke command.
	ID string `json:"id"`

	// Kind of the grant.
	Kind string `json:"kind"`

	// ExpireAt is the expiry instant, nil for never-expiring grants.
	ExpireAt *time.Time `json:"expire_at,omitempty"`
}

// MemberStatusDTO is the combined status view.
type MemberStatusDTO struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`

	// Known is false when the member has no progression row yet. The
	// remaining progression fields then hold the baseline.
	Known bool `json:"known"`

	Experience   int64 `json:"experience"`
	Level        int   `json:"level"`
	RemainingExp int64 `json:"remaining_exp"`

	// Blocked reports an active block-entry grant.
	Blocked bool `json:"blocked"`

	// BlockReason is the moderation reason, empty when not blocked.
	BlockReason string `json:"block_reason,omitempty"`

	// BlockedUntil is the block expiry, nil for indefinite blocks.
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`

	// ActiveMultiplier is the effective gain factor, 1 when none applies.
	ActiveMultiplier int `json:"active_multiplier"`

	// Grants lists the member's unexpired grants of every kind.
	Grants []GrantSummaryDTO `json:"grants"`
}

// GetMemberStatusHandler serves member status reads.
type GetMemberStatusHandler struct {
	progressions progression.Repository
	grants       grant.Repository
	multipliers  *grant.Resolver
	cache        *statuscache.Cache
	now          func() time.Time
}

// NewGetMemberStatusHandler creates the handler.
func NewGetMemberStatusHandler(
	progressions progression.Repository,
	grants grant.Repository,
	multipliers *grant.Resolver,
	cache *statuscache.Cache,
) *GetMemberStatusHandler {
	return &GetMemberStatusHandler{
		progressions: progressions,
		grants:       grants,
		multipliers:  multipliers,
		cache:        cache,
		now:          time.Now,
	}
}

// WithClock overrides the time source for tests.
func (h *GetMemberStatusHandler) WithClock(now func() time.Time) *GetMemberStatusHandler {
	h.now = now
	return h
}

// Handle executes the member status query.
func (h *GetMemberStatusHandler) Handle(ctx context.Context, query GetMemberStatusQuery) (*MemberStatusDTO, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetMemberStatus", shared.ErrValidation, "invalid member status query", err)
	}

	key := statuscache.Key(query.GuildID, "member", query.MemberID.String())

	var status MemberStatusDTO
	err := h.cache.GetWithTTL(ctx, key, &status, statuscache.TTLVolatileStatus, func(ctx context.Context) (interface{}, error) {
		return h.fetch(ctx, query)
	})
	if err != nil {
		return nil, shared.WrapError("query", "GetMemberStatus", shared.ErrExternalService, "failed to load member status", err)
	}

	return &status, nil
}

// fetch assembles the status from the repositories on a cache miss.
func (h *GetMemberStatusHandler) fetch(ctx context.Context, query GetMemberStatusQuery) (*MemberStatusDTO, error) {
	status := &MemberStatusDTO{
		GuildID:          query.GuildID.String(),
		MemberID:         query.MemberID.String(),
		Level:            1,
		ActiveMultiplier: 1,
		Grants:           []GrantSummaryDTO{},
	}

	row, err := h.progressions.ReadProgression(ctx, query.GuildID, query.MemberID)
	switch {
	case err == nil:
		status.Known = true
		status.Experience = int64(row.Experience)
		status.Level = row.Level
		status.RemainingExp = int64(row.RemainingExp)
	case errors.Is(err, shared.ErrNotFound):
		// Baseline stands.
	default:
		return nil, err
	}

	now := h.now()
	all, err := h.grants.ListGrants(ctx, query.GuildID, "")
	if err != nil {
		return nil, err
	}
	for _, g := range all {
		if g.MemberID != query.MemberID || g.Expired(now) {
			continue
		}
		status.Grants = append(status.Grants, GrantSummaryDTO{
			ID:       g.ID,
			Kind:     string(g.Kind),
			ExpireAt: g.ExpireAt,
		})
		if g.Kind == grant.KindBlockEntry {
			status.Blocked = true
			status.BlockReason = g.Reason()
			status.BlockedUntil = g.ExpireAt
		}
	}

	factor, err := h.multipliers.Resolve(ctx, query.GuildID, query.MemberID)
	if err == nil {
		status.ActiveMultiplier = factor
	}

	return status, nil
}
