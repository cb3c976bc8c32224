package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

const (
	testGuild  = shared.GuildID("123456789012345678")
	testMember = shared.MemberID("876543210987654321")
)

// fakeProgressionRepo is an in-memory progression.Repository.
type fakeProgressionRepo struct {
	mu      sync.Mutex
	rows    map[shared.MemberKey]*progression.Progression
	readErr error
}

func newFakeProgressionRepo() *fakeProgressionRepo {
	return &fakeProgressionRepo{rows: make(map[shared.MemberKey]*progression.Progression)}
}

func (r *fakeProgressionRepo) ReadProgression(_ context.Context, guildID shared.GuildID, memberID shared.MemberID) (*progression.Progression, error) {
	if r.readErr != nil {
		return nil, r.readErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[shared.NewMemberKey(guildID, memberID)]
	if !ok {
		return nil, shared.ErrProgressionNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *fakeProgressionRepo) WriteProgression(_ context.Context, p *progression.Progression) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[p.Key()] = p
	return nil
}

func (r *fakeProgressionRepo) TopByExperience(_ context.Context, guildID shared.GuildID, limit, offset int) ([]*progression.Progression, error) {
	return nil, nil
}

func (r *fakeProgressionRepo) DistinctGuilds(context.Context) ([]shared.GuildID, error) {
	return nil, nil
}

// fixedResolver returns a constant multiplier or an error.
type fixedResolver struct {
	factor int
	err    error
}

func (r fixedResolver) Resolve(context.Context, shared.GuildID, shared.MemberID) (int, error) {
	return r.factor, r.err
}

// captureQueue records enqueued snapshots.
type captureQueue struct {
	mu     sync.Mutex
	keys   []string
	values []interface{}
}

func (q *captureQueue) Enqueue(key string, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	q.values = append(q.values, value)
}

func (q *captureQueue) last() *progression.Progression {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.values) == 0 {
		return nil
	}
	return q.values[len(q.values)-1].(*progression.Progression)
}

// captureBus records published events.
type captureBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *captureBus) Publish(_ context.Context, event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventType()
	}
	return out
}

type accumulatorFixture struct {
	repo     *fakeProgressionRepo
	queue    *captureQueue
	bus      *captureBus
	cooldown *progression.CooldownGate
	handler  *RecordSignalHandler
	now      time.Time
}

func newAccumulator(t *testing.T, resolver MultiplierResolver) *accumulatorFixture {
	t.Helper()
	curve, err := progression.NewCurve(progression.DefaultCurveConfig())
	assert.NoError(t, err)

	f := &accumulatorFixture{
		repo:  newFakeProgressionRepo(),
		queue: &captureQueue{},
		bus:   &captureBus{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.cooldown = progression.NewCooldownGate(60 * time.Second).
		WithClock(func() time.Time { return f.now })

	f.handler = NewRecordSignalHandler(f.repo, curve, f.cooldown, resolver,
		f.queue, f.bus, RecordSignalConfig{Clock: func() time.Time { return f.now }})
	return f
}

func (f *accumulatorFixture) signal(kind progression.SignalKind) RecordSignalCommand {
	return RecordSignalCommand{Signal: progression.ActivitySignal{
		GuildID:   testGuild,
		MemberID:  testMember,
		Kind:      kind,
		Timestamp: f.now,
	}}
}

func TestRecordSignal_FirstSignalCreatesBaseline(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})

	result, err := f.handler.Handle(context.Background(), f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.OnCooldown)
	assert.Equal(t, shared.XP(15), result.NewExperience)
	assert.Equal(t, 1, result.Multiplier)

	// The write went to the queue, not the repository.
	assert.Equal(t, []string{testGuild.String() + ":" + testMember.String()}, f.queue.keys)
	assert.Equal(t, shared.XP(15), f.queue.last().Experience)
	f.repo.mu.Lock()
	assert.Empty(t, f.repo.rows, "accumulator must not write synchronously")
	f.repo.mu.Unlock()
}

func TestRecordSignal_PerKindGains(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})
	ctx := context.Background()

	result, _ := f.handler.Handle(ctx, f.signal(progression.SignalVoice))
	assert.Equal(t, shared.XP(10), result.NewExperience)

	// Simulate the batch flush landing, then gain again after the cooldown.
	f.repo.WriteProgression(ctx, f.queue.last())
	f.now = f.now.Add(time.Minute)

	result, _ = f.handler.Handle(ctx, f.signal(progression.SignalReaction))
	assert.Equal(t, shared.XP(15), result.NewExperience)
}

func TestRecordSignal_CooldownSwallowsSignal(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})
	ctx := context.Background()

	first, err := f.handler.Handle(ctx, f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.True(t, first.Accepted)

	// Inside the window: no gain, no queue entry, no error.
	second, err := f.handler.Handle(ctx, f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.True(t, second.OnCooldown)
	assert.Len(t, f.queue.keys, 1)

	// After the window (and the flush landing) the member gains again.
	f.repo.WriteProgression(ctx, f.queue.last())
	f.now = f.now.Add(time.Minute)
	third, err := f.handler.Handle(ctx, f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.True(t, third.Accepted)
	assert.Equal(t, shared.XP(30), third.NewExperience)
}

func TestRecordSignal_MultiplierApplies(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 3})

	result, err := f.handler.Handle(context.Background(), f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.Equal(t, 3, result.Multiplier)
	assert.Equal(t, shared.XP(45), result.NewExperience)
}

func TestRecordSignal_ResolverFailureDegradesToNeutral(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 0, err: errors.New("db down")})

	result, err := f.handler.Handle(context.Background(), f.signal(progression.SignalMessage))
	assert.NoError(t, err, "multiplier lookup failure must not drop the signal")
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, result.Multiplier)
	assert.Equal(t, shared.XP(15), result.NewExperience)
}

func TestRecordSignal_LevelChangePublishesEvent(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})

	// Seed a row one message short of level 2.
	curve, _ := progression.NewCurve(progression.DefaultCurveConfig())
	row := progression.NewProgression(testGuild, testMember, curve)
	row.Experience = curve.Threshold(2) - 10
	row.Recompute(curve)
	f.repo.WriteProgression(context.Background(), row)

	result, err := f.handler.Handle(context.Background(), f.signal(progression.SignalMessage))
	assert.NoError(t, err)
	assert.True(t, result.LevelChanged)
	assert.Equal(t, 1, result.OldLevel)
	assert.Equal(t, 2, result.NewLevel)

	assert.Equal(t, []shared.EventType{
		shared.EventExperienceGained,
		shared.EventLevelChanged,
	}, f.bus.types())
}

func TestRecordSignal_NoLevelChangeNoLevelEvent(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})

	result, err := f.handler.Handle(context.Background(), f.signal(progression.SignalReaction))
	assert.NoError(t, err)
	assert.False(t, result.LevelChanged)
	assert.Equal(t, []shared.EventType{shared.EventExperienceGained}, f.bus.types())
}

func TestRecordSignal_MalformedSignalRejected(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})

	cmd := f.signal("typing")
	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, shared.ErrMalformedSignal)
	assert.Empty(t, f.queue.keys)
	assert.Empty(t, f.bus.events)
}

func TestRecordSignal_ReadFailureIsAnError(t *testing.T) {
	f := newAccumulator(t, fixedResolver{factor: 1})
	f.repo.readErr = errors.New("connection refused")

	_, err := f.handler.Handle(context.Background(), f.signal(progression.SignalMessage))
	assert.Error(t, err)
	assert.Empty(t, f.queue.keys)
}
