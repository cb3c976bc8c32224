package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

func defaultCurve(t *testing.T) *Curve {
	t.Helper()
	curve, err := NewCurve(DefaultCurveConfig())
	assert.NoError(t, err)
	return curve
}

func TestNewCurve_Validation(t *testing.T) {
	_, err := NewCurve(CurveConfig{Levels: 1, FirstLevelXP: 100, LastLevelXP: 1000})
	assert.Error(t, err)

	_, err = NewCurve(CurveConfig{Levels: 10, FirstLevelXP: 1000, LastLevelXP: 100})
	assert.Error(t, err)

	_, err = NewCurve(CurveConfig{Levels: 10, FirstLevelXP: -5, LastLevelXP: 100})
	assert.Error(t, err)
}

func TestCurve_Thresholds(t *testing.T) {
	curve := defaultCurve(t)

	assert.Equal(t, 100, curve.MaxLevel())
	assert.Equal(t, shared.XP(100), curve.Threshold(1))
	assert.Equal(t, shared.XP(2_000_000), curve.Threshold(100))

	// Out-of-range levels clamp instead of panicking.
	assert.Equal(t, curve.Threshold(1), curve.Threshold(0))
	assert.Equal(t, curve.Threshold(100), curve.Threshold(500))

	// Quadratic growth: the step between consecutive levels keeps widening.
	prev := curve.Threshold(2) - curve.Threshold(1)
	for level := 3; level <= 100; level++ {
		step := curve.Threshold(level) - curve.Threshold(level-1)
		assert.GreaterOrEqual(t, int64(step), int64(prev), "step shrank at level %d", level)
		prev = step
	}
}

func TestCurve_Evaluate(t *testing.T) {
	curve := defaultCurve(t)

	// Below the first threshold is still level 1.
	eval := curve.Evaluate(0)
	assert.Equal(t, 1, eval.Level)
	assert.Equal(t, shared.XP(100), eval.CurrentLevelExp)

	// Exactly on a threshold reaches the level.
	eval = curve.Evaluate(curve.Threshold(50))
	assert.Equal(t, 50, eval.Level)
	assert.Equal(t, curve.Threshold(50), eval.CurrentLevelExp)
	assert.Equal(t, curve.Threshold(51), eval.NextLevelExp)
	assert.Equal(t, curve.Threshold(51)-curve.Threshold(50), eval.RemainingExp)

	// One XP short of a threshold stays on the previous level.
	eval = curve.Evaluate(curve.Threshold(50) - 1)
	assert.Equal(t, 49, eval.Level)
	assert.Equal(t, shared.XP(1), eval.RemainingExp)

	// At and beyond the top the level caps and remaining floors at zero.
	eval = curve.Evaluate(2_000_000)
	assert.Equal(t, 100, eval.Level)
	assert.Equal(t, shared.XP(0), eval.RemainingExp)

	eval = curve.Evaluate(99_999_999)
	assert.Equal(t, 100, eval.Level)
	assert.Equal(t, shared.XP(0), eval.RemainingExp)
}

func TestCurve_LevelNeverDecreasesWithExperience(t *testing.T) {
	curve := defaultCurve(t)

	prev := 0
	for e := shared.XP(0); e <= 2_100_000; e += 997 {
		eval := curve.Evaluate(e)
		if eval.Level < prev {
			t.Fatalf("level dropped from %d to %d at %d xp", prev, eval.Level, e)
		}
		prev = eval.Level

		// Re-evaluating at the level's own floor lands on the same level.
		assert.Equal(t, eval.Level, curve.Evaluate(eval.CurrentLevelExp).Level,
			"floor of level %d maps to a different level", eval.Level)
	}
	assert.Equal(t, curve.MaxLevel(), prev)

	// Thresholds are exact boundaries: reaching one grants the level,
	// one point short does not.
	for level := 2; level <= curve.MaxLevel(); level++ {
		at := curve.Threshold(level)
		assert.Equal(t, level, curve.Evaluate(at).Level)
		assert.Equal(t, level-1, curve.Evaluate(at-1).Level)
	}
}

func TestProgression_Apply(t *testing.T) {
	curve := defaultCurve(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := NewProgression("g1", "m1", curve)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, shared.XP(0), p.Experience)

	// Small gains stay on level 1.
	changed := p.Apply(15, curve, now)
	assert.False(t, changed)
	assert.Equal(t, shared.XP(15), p.Experience)
	assert.Equal(t, now, p.UpdatedAt)

	// Crossing the level 2 threshold reports the change.
	changed = p.Apply(curve.Threshold(2), curve, now.Add(time.Minute))
	assert.True(t, changed)
	assert.Equal(t, 2, p.Level)

	// A negative delta cannot push the total below zero.
	changed = p.Apply(-1_000_000, curve, now.Add(2*time.Minute))
	assert.True(t, changed)
	assert.Equal(t, shared.XP(0), p.Experience)
	assert.Equal(t, 1, p.Level)
}

func TestProgression_Snapshot(t *testing.T) {
	curve := defaultCurve(t)
	rank := 7

	p := NewProgression("g1", "m1", curve)
	p.Rank = &rank

	snap := p.Snapshot()
	p.Apply(500, curve, time.Now())
	*p.Rank = 1

	assert.Equal(t, shared.XP(0), snap.Experience)
	assert.Equal(t, 7, *snap.Rank)
}

func TestActivitySignal_Validate(t *testing.T) {
	valid := ActivitySignal{
		GuildID:   "123456789012345678",
		MemberID:  "876543210987654321",
		Kind:      SignalMessage,
		Timestamp: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	noGuild := valid
	noGuild.GuildID = ""
	assert.ErrorIs(t, noGuild.Validate(), shared.ErrInvalidGuildID)

	noMember := valid
	noMember.MemberID = ""
	assert.ErrorIs(t, noMember.Validate(), shared.ErrInvalidMemberID)

	badKind := valid
	badKind.Kind = "typing"
	assert.ErrorIs(t, badKind.Validate(), shared.ErrMalformedSignal)
}
