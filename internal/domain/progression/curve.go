// Package progression contains the experience and level domain model:
// the level curve, activity signals, member progression rows, and the
// cooldown gate that throttles experience gain.
package progression

import (
	"fmt"
	"math"
	"sort"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// ══════════════════════════════════════════════════════════════════════════════

// Curve maps cumulative experience to levels. The curve is quadratic:
// the cumulative threshold of level L is
//
//	first + (last-first) * ((L-1)/(N-1))^2
//
// for N total levels. The curve is generated once into a lookup table and
// never recomputed at runtime; it is ascending by construction.
type Curve struct {
	thresholds []shared.XP // thresholds[i] is the cumulative XP for level i+1
}

// CurveConfig describes a level curve.
type CurveConfig struct {
	// Levels is the total number of levels N (at least 2).
	Levels int

	// FirstLevelXP is the cumulative experience threshold of level 1.
	FirstLevelXP shared.XP

	// LastLevelXP is the cumulative experience threshold of level N.
	LastLevelXP shared.XP
}

// DefaultCurveConfig returns the curve used when no overrides are configured.
func DefaultCurveConfig() CurveConfig {
	return CurveConfig{
		Levels:       100,
		FirstLevelXP: 100,
		LastLevelXP:  2_000_000,
	}
}

// Validate checks the curve configuration.
func (c CurveConfig) Validate() error {
	if c.Levels < 2 {
		return fmt.Errorf("curve: levels must be at least 2, got %d", c.Levels)
	}
	if c.FirstLevelXP < 0 {
		return fmt.Errorf("curve: first level XP cannot be negative")
	}
	if c.LastLevelXP < c.FirstLevelXP {
		return fmt.Errorf("curve: last level XP (%d) below first level XP (%d)",
			c.LastLevelXP, c.FirstLevelXP)
	}
	return nil
}

// NewCurve generates the lookup table for the given configuration.
func NewCurve(cfg CurveConfig) (*Curve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	thresholds := make([]shared.XP, cfg.Levels)
	span := float64(cfg.LastLevelXP - cfg.FirstLevelXP)
	for i := 0; i < cfg.Levels; i++ {
		ratio := float64(i) / float64(cfg.Levels-1)
		thresholds[i] = cfg.FirstLevelXP + shared.XP(math.Round(span*ratio*ratio))
	}

	return &Curve{thresholds: thresholds}, nil
}

// MaxLevel returns the highest level of the curve.
func (c *Curve) MaxLevel() int {
	return len(c.thresholds)
}

// Threshold returns the cumulative experience threshold of a level.
// Levels outside [1, MaxLevel] are clamped.
func (c *Curve) Threshold(level int) shared.XP {
	if level < 1 {
		level = 1
	}
	if level > len(c.thresholds) {
		level = len(c.thresholds)
	}
	return c.thresholds[level-1]
}

// Evaluation is the projection of a raw experience total onto the curve.
// All fields are derived from Experience; they are stored alongside it
// for read efficiency only and are never independently authoritative.
type Evaluation struct {
	// Level is the greatest level whose threshold is ≤ the experience,
	// clamped to [1, MaxLevel].
	Level int

	// CurrentLevelExp is the cumulative threshold of Level.
	CurrentLevelExp shared.XP

	// NextLevelExp is the cumulative threshold of Level+1, or of MaxLevel
	// when already at the top.
	NextLevelExp shared.XP

	// RemainingExp is NextLevelExp minus the experience, floored at 0.
	RemainingExp shared.XP
}

// Evaluate maps an experience total to its level projection.
// Negative experience is the caller's responsibility to reject; values
// below the first threshold evaluate to level 1.
func (c *Curve) Evaluate(experience shared.XP) Evaluation {
	n := len(c.thresholds)

	// Index of the first threshold strictly greater than the experience.
	idx := sort.Search(n, func(i int) bool {
		return c.thresholds[i] > experience
	})

	level := idx // greatest level with threshold ≤ experience
	if level < 1 {
		level = 1
	}
	if level > n {
		level = n
	}

	eval := Evaluation{
		Level:           level,
		CurrentLevelExp: c.thresholds[level-1],
	}

	if level < n {
		eval.NextLevelExp = c.thresholds[level]
	} else {
		eval.NextLevelExp = c.thresholds[n-1]
	}

	remaining := eval.NextLevelExp - experience
	if remaining < 0 {
		remaining = 0
	}
	eval.RemainingExp = remaining

	return eval
}
