package query

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/statuscache"
)

const (
	testGuild  = shared.GuildID("123456789012345678")
	testMember = shared.MemberID("876543210987654321")
)

// stubProgressionRepo serves progression rows from a map.
type stubProgressionRepo struct {
	mu   sync.Mutex
	rows map[shared.MemberKey]*progression.Progression
}

func newStubProgressionRepo() *stubProgressionRepo {
	return &stubProgressionRepo{rows: make(map[shared.MemberKey]*progression.Progression)}
}

func (r *stubProgressionRepo) put(row *progression.Progression) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.Key()] = row
}

func (r *stubProgressionRepo) ReadProgression(_ context.Context, guildID shared.GuildID, memberID shared.MemberID) (*progression.Progression, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[shared.NewMemberKey(guildID, memberID)]
	if !ok {
		return nil, shared.ErrProgressionNotFound
	}
	return row, nil
}

func (r *stubProgressionRepo) WriteProgression(_ context.Context, p *progression.Progression) error {
	r.put(p)
	return nil
}

func (r *stubProgressionRepo) TopByExperience(_ context.Context, guildID shared.GuildID, limit, offset int) ([]*progression.Progression, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []*progression.Progression
	for _, row := range r.rows {
		if row.GuildID == guildID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Experience > rows[j].Experience })
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *stubProgressionRepo) DistinctGuilds(context.Context) ([]shared.GuildID, error) {
	return nil, nil
}

// stubGrantRepo serves grants from a slice.
type stubGrantRepo struct {
	mu     sync.Mutex
	grants []*grant.TemporalGrant
}

func (r *stubGrantRepo) add(g *grant.TemporalGrant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, g)
}

func (r *stubGrantRepo) Insert(_ context.Context, g *grant.TemporalGrant) error {
	r.add(g)
	return nil
}

func (r *stubGrantRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.grants {
		if g.ID == id {
			r.grants = append(r.grants[:i], r.grants[i+1:]...)
			break
		}
	}
	return nil
}

func (r *stubGrantRepo) GetByID(_ context.Context, id string) (*grant.TemporalGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, shared.ErrGrantNotFound
}

func (r *stubGrantRepo) ListGrants(_ context.Context, guildID shared.GuildID, kind grant.Kind) ([]*grant.TemporalGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*grant.TemporalGrant
	for _, g := range r.grants {
		if (guildID == "" || g.GuildID == guildID) && (kind == "" || g.Kind == kind) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *stubGrantRepo) ListExpired(_ context.Context, now time.Time) ([]*grant.TemporalGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*grant.TemporalGrant
	for _, g := range r.grants {
		if g.Expired(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *stubGrantRepo) ReadMultiplier(_ context.Context, guildID shared.GuildID, memberID shared.MemberID) (*grant.TemporalGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if g.Kind == grant.KindMultiplier && g.GuildID == guildID && g.MemberID == memberID {
			return g, nil
		}
	}
	return nil, shared.ErrGrantNotFound
}

type statusFixture struct {
	progressions *stubProgressionRepo
	grants       *stubGrantRepo
	registry     *grant.Registry
	handler      *GetMemberStatusHandler
	now          time.Time
}

func newStatusFixture(t *testing.T) *statusFixture {
	t.Helper()
	f := &statusFixture{
		progressions: newStubProgressionRepo(),
		grants:       &stubGrantRepo{},
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.registry = grant.NewRegistry(f.grants, grant.RegistryConfig{Clock: clock})
	resolver := grant.NewResolver(f.grants).WithClock(clock)
	cache := statuscache.New(statuscache.NewMemoryStore(), statuscache.Config{})
	f.handler = NewGetMemberStatusHandler(f.progressions, f.grants, resolver, cache).WithClock(clock)
	return f
}

func (f *statusFixture) seedRow(t *testing.T, xp shared.XP) {
	t.Helper()
	curve, err := progression.NewCurve(progression.DefaultCurveConfig())
	assert.NoError(t, err)
	row := progression.NewProgression(testGuild, testMember, curve)
	row.Experience = xp
	row.Recompute(curve)
	f.progressions.put(row)
}

func TestGetMemberStatus_UnknownMemberIsBaseline(t *testing.T) {
	f := newStatusFixture(t)

	status, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{
		GuildID: testGuild, MemberID: testMember,
	})
	assert.NoError(t, err)
	assert.False(t, status.Known)
	assert.Equal(t, int64(0), status.Experience)
	assert.Equal(t, 1, status.Level)
	assert.False(t, status.Blocked)
	assert.Equal(t, 1, status.ActiveMultiplier)
	assert.Empty(t, status.Grants)
}

func TestGetMemberStatus_KnownMember(t *testing.T) {
	f := newStatusFixture(t)
	f.seedRow(t, 5000)

	status, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{
		GuildID: testGuild, MemberID: testMember,
	})
	assert.NoError(t, err)
	assert.True(t, status.Known)
	assert.Equal(t, int64(5000), status.Experience)
	assert.Greater(t, status.Level, 1)
}

func TestGetMemberStatus_BlockedMember(t *testing.T) {
	f := newStatusFixture(t)
	dur := 7 * 24 * time.Hour
	_, err := f.registry.Grant(context.Background(), testGuild, testMember,
		grant.KindBlockEntry, grant.BlockEntryPayload("repeated spam"), &dur)
	assert.NoError(t, err)

	status, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{
		GuildID: testGuild, MemberID: testMember,
	})
	assert.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, "repeated spam", status.BlockReason)
	assert.NotNil(t, status.BlockedUntil)
	assert.Len(t, status.Grants, 1)
}

func TestGetMemberStatus_ExpiredGrantsExcluded(t *testing.T) {
	f := newStatusFixture(t)
	dur := 10 * time.Minute
	_, err := f.registry.Grant(context.Background(), testGuild, testMember,
		grant.KindBlockEntry, grant.BlockEntryPayload("x"), &dur)
	assert.NoError(t, err)

	// Past the expiry the unswept row must not surface in the status.
	f.now = f.now.Add(time.Hour)

	status, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{
		GuildID: testGuild, MemberID: testMember,
	})
	assert.NoError(t, err)
	assert.False(t, status.Blocked)
	assert.Empty(t, status.Grants)
}

func TestGetMemberStatus_ActiveMultiplier(t *testing.T) {
	f := newStatusFixture(t)
	dur := time.Hour
	_, err := f.registry.Grant(context.Background(), testGuild, testMember,
		grant.KindMultiplier, grant.MultiplierPayload(3), &dur)
	assert.NoError(t, err)

	status, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{
		GuildID: testGuild, MemberID: testMember,
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, status.ActiveMultiplier)
	assert.False(t, status.Blocked)
}

func TestGetMemberStatus_Validation(t *testing.T) {
	f := newStatusFixture(t)

	_, err := f.handler.Handle(context.Background(), GetMemberStatusQuery{GuildID: "bad", MemberID: testMember})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.handler.Handle(context.Background(), GetMemberStatusQuery{GuildID: testGuild})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetMemberStatus_CachedWithinTTL(t *testing.T) {
	f := newStatusFixture(t)
	query := GetMemberStatusQuery{GuildID: testGuild, MemberID: testMember}

	status, err := f.handler.Handle(context.Background(), query)
	assert.NoError(t, err)
	assert.False(t, status.Known)

	// The row appears, but the cached status is still served.
	f.seedRow(t, 500)
	status, err = f.handler.Handle(context.Background(), query)
	assert.NoError(t, err)
	assert.False(t, status.Known, "status inside the TTL comes from the cache")
}
