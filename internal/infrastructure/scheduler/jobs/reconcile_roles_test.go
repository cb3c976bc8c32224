package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

const testGuild = shared.GuildID("123456789012345678")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pagedRepo serves a fixed member list through the paging interface.
type pagedRepo struct {
	rows []*progression.Progression
}

func newPagedRepo(members int) *pagedRepo {
	curve, _ := progression.NewCurve(progression.DefaultCurveConfig())
	r := &pagedRepo{}
	for i := 0; i < members; i++ {
		row := progression.NewProgression(testGuild,
			shared.MemberID(fmt.Sprintf("10000000000000%04d", i)), curve)
		row.Experience = shared.XP((members - i) * 100)
		row.Recompute(curve)
		r.rows = append(r.rows, row)
	}
	return r
}

func (r *pagedRepo) ReadProgression(context.Context, shared.GuildID, shared.MemberID) (*progression.Progression, error) {
	return nil, shared.ErrProgressionNotFound
}

func (r *pagedRepo) WriteProgression(context.Context, *progression.Progression) error {
	return nil
}

func (r *pagedRepo) TopByExperience(_ context.Context, guildID shared.GuildID, limit, offset int) ([]*progression.Progression, error) {
	if guildID != testGuild || offset >= len(r.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(r.rows) {
		end = len(r.rows)
	}
	return r.rows[offset:end], nil
}

func (r *pagedRepo) DistinctGuilds(context.Context) ([]shared.GuildID, error) {
	return []shared.GuildID{testGuild}, nil
}

// countingSyncer records synced members and can fail a chosen set.
type countingSyncer struct {
	mu      sync.Mutex
	synced  []shared.MemberID
	failFor map[shared.MemberID]bool
}

func (s *countingSyncer) Sync(_ context.Context, _ shared.GuildID, memberID shared.MemberID, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[memberID] {
		return errors.New("provider unavailable")
	}
	s.synced = append(s.synced, memberID)
	return nil
}

func TestReconcileRolesJob_WalksEveryMemberAcrossPages(t *testing.T) {
	repo := newPagedRepo(7)
	syncer := &countingSyncer{}
	job := NewReconcileRolesJob(repo, syncer, quietLogger(), ReconcileRolesConfig{
		PageSize: 3,
		Timeout:  time.Second,
	})

	assert.NoError(t, job.Run(context.Background()))
	assert.Len(t, syncer.synced, 7)
}

func TestReconcileRolesJob_CountsFailuresAndContinues(t *testing.T) {
	repo := newPagedRepo(4)
	syncer := &countingSyncer{failFor: map[shared.MemberID]bool{
		repo.rows[1].MemberID: true,
	}}
	job := NewReconcileRolesJob(repo, syncer, quietLogger(), ReconcileRolesConfig{
		PageSize: 10,
		Timeout:  time.Second,
	})

	err := job.Run(context.Background())
	assert.Error(t, err, "a pass with failed syncs must report them")
	assert.Len(t, syncer.synced, 3, "one failure must not stop the walk")
}

func TestReconcileRolesJob_CancelAbortsPass(t *testing.T) {
	repo := newPagedRepo(50)
	syncer := &countingSyncer{}
	job := NewReconcileRolesJob(repo, syncer, quietLogger(), ReconcileRolesConfig{
		PageSize:    10,
		Timeout:     time.Minute,
		PacingDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(syncer.synced), 50)
}

func TestPruneCooldownsJob(t *testing.T) {
	gate := progression.NewCooldownGate(time.Minute)
	now := time.Now()
	gate.WithClock(func() time.Time { return now })

	gate.TryAccept(shared.MemberKey{GuildID: testGuild, MemberID: "876543210987654321"})
	assert.Equal(t, 1, gate.Size())

	job := NewPruneCooldownsJob(gate, quietLogger())
	assert.Equal(t, "prune_cooldowns", job.Name())

	// Entry still inside its window survives the pass.
	assert.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, gate.Size())

	now = now.Add(2 * time.Minute)
	assert.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, gate.Size())
}
