package progression

import (
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY SIGNAL
// ══════════════════════════════════════════════════════════════════════════════

// SignalKind classifies the raw activity that produced a signal.
type SignalKind string

const (
	// SignalMessage - a chat message was posted.
	SignalMessage SignalKind = "message"

	// SignalVoice - a voice-session tick was reported.
	SignalVoice SignalKind = "voice"

	// SignalReaction - a reaction was added.
	SignalReaction SignalKind = "reaction"
)

// ActivitySignal is a raw activity event delivered by the ingest collaborator.
// Signals are ephemeral: consumed once, never persisted.
type ActivitySignal struct {
	// GuildID is the scope the activity happened in.
	GuildID shared.GuildID

	// MemberID is the member who produced the activity.
	MemberID shared.MemberID

	// Kind is the activity classification.
	Kind SignalKind

	// Timestamp is when the activity occurred.
	Timestamp time.Time
}

// Validate checks the signal before it enters the accumulator.
func (s ActivitySignal) Validate() error {
	if !s.GuildID.IsValid() {
		return shared.ErrInvalidGuildID
	}
	if !s.MemberID.IsValid() {
		return shared.ErrInvalidMemberID
	}
	switch s.Kind {
	case SignalMessage, SignalVoice, SignalReaction:
	default:
		return shared.ErrMalformedSignal
	}
	return nil
}

// Key returns the (guild, member) composite key for this signal.
func (s ActivitySignal) Key() shared.MemberKey {
	return shared.NewMemberKey(s.GuildID, s.MemberID)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

// Progression is a member's experience row. Experience is the single
// authoritative field; Level, CurrentLevelExp, NextLevelExp and RemainingExp
// are a cached projection recomputed from Experience on every write.
type Progression struct {
	// GuildID is the scope of the row.
	GuildID shared.GuildID

	// MemberID is the member the row belongs to.
	MemberID shared.MemberID

	// Experience is the cumulative experience total. Never negative.
	Experience shared.XP

	// Level is derived from Experience via the level curve.
	Level int

	// CurrentLevelExp is the cumulative threshold of Level.
	CurrentLevelExp shared.XP

	// NextLevelExp is the cumulative threshold of the next level.
	NextLevelExp shared.XP

	// RemainingExp is the experience still needed for the next level.
	RemainingExp shared.XP

	// Rank is the member's position in the guild leaderboard, when known.
	// Nil when the row has never been ranked.
	Rank *int

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time
}

// NewProgression returns the zero-experience baseline row for a member.
// A missing persistence row is represented this way, not as an error.
func NewProgression(guildID shared.GuildID, memberID shared.MemberID, curve *Curve) *Progression {
	p := &Progression{
		GuildID:  guildID,
		MemberID: memberID,
	}
	p.Recompute(curve)
	return p
}

// Recompute refreshes the derived projection from Experience.
func (p *Progression) Recompute(curve *Curve) {
	eval := curve.Evaluate(p.Experience)
	p.Level = eval.Level
	p.CurrentLevelExp = eval.CurrentLevelExp
	p.NextLevelExp = eval.NextLevelExp
	p.RemainingExp = eval.RemainingExp
}

// Apply adds an experience delta (clamped at zero), refreshes the derived
// projection, and reports whether the level changed.
func (p *Progression) Apply(delta shared.XP, curve *Curve, now time.Time) (levelChanged bool) {
	oldLevel := p.Level
	p.Experience = p.Experience.Add(delta)
	p.Recompute(curve)
	p.UpdatedAt = now
	return p.Level != oldLevel
}

// Key returns the (guild, member) composite key for this row.
func (p *Progression) Key() shared.MemberKey {
	return shared.NewMemberKey(p.GuildID, p.MemberID)
}

// Snapshot returns a copy of the row. Queued write payloads are snapshots
// so later compute cycles never alias pending batch entries.
func (p *Progression) Snapshot() *Progression {
	copied := *p
	if p.Rank != nil {
		rank := *p.Rank
		copied.Rank = &rank
	}
	return &copied
}
