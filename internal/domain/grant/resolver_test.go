package grant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

func TestResolver_NoMultiplier(t *testing.T) {
	resolver := NewResolver(newFakeRepo())

	factor, err := resolver.Resolve(context.Background(), testGuild, testMember)
	assert.NoError(t, err)
	assert.Equal(t, 1, factor)
}

func TestResolver_SpecificBeatsScopeWide(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := newRegistry(repo, clock)
	resolver := NewResolver(repo).WithClock(clock)
	ctx := context.Background()

	dur := time.Hour
	_, err := reg.Grant(ctx, testGuild, "", KindMultiplier, MultiplierPayload(2), &dur)
	assert.NoError(t, err)

	// Only the scope-wide multiplier exists.
	factor, err := resolver.Resolve(ctx, testGuild, testMember)
	assert.NoError(t, err)
	assert.Equal(t, 2, factor)

	// A subject-specific multiplier takes precedence.
	_, err = reg.Grant(ctx, testGuild, testMember, KindMultiplier, MultiplierPayload(3), &dur)
	assert.NoError(t, err)

	factor, err = resolver.Resolve(ctx, testGuild, testMember)
	assert.NoError(t, err)
	assert.Equal(t, 3, factor)
}

func TestResolver_ExpiredMultiplierIsNeutral(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newRegistry(repo, func() time.Time { return now })
	resolver := NewResolver(repo).WithClock(func() time.Time { return now })
	ctx := context.Background()

	dur := 10 * time.Minute
	_, err := reg.Grant(ctx, testGuild, testMember, KindMultiplier, MultiplierPayload(4), &dur)
	assert.NoError(t, err)

	factor, _ := resolver.Resolve(ctx, testGuild, testMember)
	assert.Equal(t, 4, factor)

	// Past the expiry the row may still exist (the sweep has not run yet)
	// but the resolver must already treat it as neutral.
	now = now.Add(time.Hour)
	factor, err = resolver.Resolve(ctx, testGuild, testMember)
	assert.NoError(t, err)
	assert.Equal(t, 1, factor)
}

// failingReadRepo fails every multiplier read.
type failingReadRepo struct {
	*fakeRepo
	err error
}

func (r *failingReadRepo) ReadMultiplier(context.Context, shared.GuildID, shared.MemberID) (*TemporalGrant, error) {
	return nil, r.err
}

func TestResolver_LookupFailureDegradesToNeutral(t *testing.T) {
	boom := errors.New("connection refused")
	resolver := NewResolver(&failingReadRepo{fakeRepo: newFakeRepo(), err: boom})

	factor, err := resolver.Resolve(context.Background(), testGuild, testMember)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, factor, "gain processing must keep a usable factor on lookup failure")
}
