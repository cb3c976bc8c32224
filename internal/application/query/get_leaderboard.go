// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/statuscache"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns the guild's top members ordered by experience. The aggregate is
// served through the status cache with the long TTL; batch flushes
// invalidate the guild scope, so a fresh page follows every persisted write.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request parameters.
type GetLeaderboardQuery struct {
	// GuildID is the guild whose leaderboard is requested.
	GuildID shared.GuildID

	// Limit is the page size (default 20, maximum 100).
	Limit int

	// Offset is the pagination offset.
	Offset int
}

// Validate checks and normalizes the request parameters.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// LeaderboardEntryDTO is one leaderboard row (Data Transfer Object).
type LeaderboardEntryDTO struct {
	// Position in the ranking, 1-based within the requested page.
	Position int `json:"position"`

	// MemberID identifies the member.
	MemberID string `json:"member_id"`

	// Experience is the member's lifetime experience total.
	Experience int64 `json:"experience"`

	// Level derived from the experience total.
	Level int `json:"level"`

	// RemainingExp is the experience still needed for the next level.
	RemainingExp int64 `json:"remaining_exp"`
}

// GetLeaderboardResult contains the leaderboard response.
type GetLeaderboardResult struct {
	// Entries are the page's rows.
	Entries []LeaderboardEntryDTO `json:"entries"`

	// GuildID is the guild the page belongs to.
	GuildID string `json:"guild_id"`

	// GeneratedAt is when this page was built (cached pages keep the
	// build time of the fetch that populated them).
	GeneratedAt time.Time `json:"generated_at"`

	// HasMore reports whether another page likely follows.
	HasMore bool `json:"has_more"`

	// Page is the current page, 1-based.
	Page int `json:"page"`

	// PageSize is the requested page size.
	PageSize int `json:"page_size"`
}

// GetLeaderboardHandler serves leaderboard reads.
type GetLeaderboardHandler struct {
	repo  progression.Repository
	cache *statuscache.Cache
}

// NewGetLeaderboardHandler creates the handler.
func NewGetLeaderboardHandler(repo progression.Repository, cache *statuscache.Cache) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{
		repo:  repo,
		cache: cache,
	}
}

// Handle executes the leaderboard query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, "invalid leaderboard query", err)
	}

	key := statuscache.Key(query.GuildID, "leaderboard",
		fmt.Sprintf("%d", query.Limit), fmt.Sprintf("%d", query.Offset))

	var result GetLeaderboardResult
	err := h.cache.GetWithTTL(ctx, key, &result, statuscache.TTLAggregate, func(ctx context.Context) (interface{}, error) {
		return h.fetch(ctx, query)
	})
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrExternalService, "failed to load leaderboard", err)
	}

	return &result, nil
}

// fetch loads a page from the repository on a cache miss. One row past the
// page is requested so HasMore never needs a count query.
func (h *GetLeaderboardHandler) fetch(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	rows, err := h.repo.TopByExperience(ctx, query.GuildID, query.Limit+1, query.Offset)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > query.Limit
	if hasMore {
		rows = rows[:query.Limit]
	}

	entries := make([]LeaderboardEntryDTO, len(rows))
	for i, row := range rows {
		entries[i] = LeaderboardEntryDTO{
			Position:     query.Offset + i + 1,
			MemberID:     row.MemberID.String(),
			Experience:   int64(row.Experience),
			Level:        row.Level,
			RemainingExp: int64(row.RemainingExp),
		}
	}

	page := 1
	if query.Limit > 0 {
		page = (query.Offset / query.Limit) + 1
	}

	return &GetLeaderboardResult{
		Entries:     entries,
		GuildID:     query.GuildID.String(),
		GeneratedAt: time.Now().UTC(),
		HasMore:     hasMore,
		Page:        page,
		PageSize:    query.Limit,
	}, nil
}
