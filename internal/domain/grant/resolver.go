package grant

import (
	"context"
	"errors"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver computes the effective gain factor for a (guild, member) pair
// from active multiplier grants. Pure read: the sweep owns removal of
// expired rows, so the resolver only compares timestamps.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver over the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// WithClock overrides the resolver's time source. Intended for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the effective multiplier magnitude, always ≥ 1.
//
// Precedence is deterministic: an active subject-specific multiplier wins
// over an active scope-wide one; with neither, the factor is 1. Lookup
// failures degrade to the neutral factor alongside the error so gain
// processing never stalls on the multiplier path.
func (r *Resolver) Resolve(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (int, error) {
	now := r.now()

	specific, err := r.repo.ReadMultiplier(ctx, guildID, memberID)
	if err == nil && specific.ActiveMultiplier(now) {
		return specific.Magnitude(), nil
	}
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return 1, err
	}

	scopeWide, err := r.repo.ReadMultiplier(ctx, guildID, "")
	if err == nil && scopeWide.ActiveMultiplier(now) {
		return scopeWide.Magnitude(), nil
	}
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return 1, err
	}

	return 1, nil
}
