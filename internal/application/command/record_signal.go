// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SIGNAL COMMAND
// The experience accumulator: converts a raw activity signal into experience,
// applying the cooldown gate and the active multiplier, then hands the new
// row to the batching queue instead of writing synchronously.
// ══════════════════════════════════════════════════════════════════════════════

// MultiplierResolver computes the effective gain factor for a member.
// Implemented by grant.Resolver.
type MultiplierResolver interface {
	Resolve(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) (int, error)
}

// UpdateEnqueuer coalesces progression writes. Implemented by batching.Queue.
type UpdateEnqueuer interface {
	Enqueue(key string, value interface{})
}

// EventPublisher publishes domain events. Implemented by messaging.EventBus.
type EventPublisher interface {
	Publish(ctx context.Context, event shared.Event) error
}

// RecordSignalCommand carries one activity signal into the accumulator.
type RecordSignalCommand struct {
	// Signal is the raw activity event from the ingest collaborator.
	Signal progression.ActivitySignal

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command. A malformed signal is rejected
// synchronously and dropped with no partial state change.
func (c RecordSignalCommand) Validate() error {
	return c.Signal.Validate()
}

// RecordSignalResult reports what the accumulator did with the signal.
type RecordSignalResult struct {
	// Accepted is false when the cooldown gate swallowed the signal.
	Accepted bool

	// OnCooldown indicates the member was inside an active cooldown window.
	OnCooldown bool

	// Multiplier is the effective gain factor that was applied.
	Multiplier int

	// NewExperience is the member's experience total after the gain.
	NewExperience shared.XP

	// OldLevel and NewLevel bracket the level recomputation.
	OldLevel int
	NewLevel int

	// LevelChanged indicates a level boundary was crossed.
	LevelChanged bool
}

// RecordSignalConfig configures the accumulator.
type RecordSignalConfig struct {
	// BaseGains maps a signal kind to its raw experience gain.
	BaseGains map[progression.SignalKind]shared.XP

	// Logger for structured logging.
	Logger *slog.Logger

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// DefaultRecordSignalConfig returns the default per-kind gains.
func DefaultRecordSignalConfig() RecordSignalConfig {
	return RecordSignalConfig{
		BaseGains: map[progression.SignalKind]shared.XP{
			progression.SignalMessage:  15,
			progression.SignalVoice:    10,
			progression.SignalReaction: 5,
		},
	}
}

// RecordSignalHandler is the accumulator entry point the ingest collaborator
// calls for every activity signal.
type RecordSignalHandler struct {
	repo     progression.Repository
	curve    *progression.Curve
	cooldown *progression.CooldownGate
	resolver MultiplierResolver
	queue    UpdateEnqueuer
	bus      EventPublisher
	logger   *slog.Logger
	gains    map[progression.SignalKind]shared.XP
	now      func() time.Time
}

// NewRecordSignalHandler wires the accumulator.
func NewRecordSignalHandler(
	repo progression.Repository,
	curve *progression.Curve,
	coolDown *progression.CooldownGate,
	resolver MultiplierResolver,
	queue UpdateEnqueuer,
	bus EventPublisher,
	cfg RecordSignalConfig,
) *RecordSignalHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if len(cfg.BaseGains) == 0 {
		cfg.BaseGains = DefaultRecordSignalConfig().BaseGains
	}

	return &RecordSignalHandler{
		repo:     repo,
		curve:    curve,
		cooldown: coolDown,
		resolver: resolver,
		queue:    queue,
		bus:      bus,
		logger:   cfg.Logger.With("component", "record_signal"),
		gains:    cfg.BaseGains,
		now:      cfg.Clock,
	}
}

// Handle accumulates one activity signal.
//
// A signal inside the cooldown window is a no-op, not an error. A missing
// progression row is the zero-experience baseline. The write goes to the
// batching queue keyed by (guild, member); the persistence call happens on
// flush, not here.
func (h *RecordSignalHandler) Handle(ctx context.Context, cmd RecordSignalCommand) (RecordSignalResult, error) {
	if err := cmd.Validate(); err != nil {
		return RecordSignalResult{}, err
	}

	signal := cmd.Signal
	key := signal.Key()

	if !h.cooldown.TryAccept(key) {
		h.logger.Debug("signal on cooldown",
			"guild_id", signal.GuildID.String(),
			"member_id", signal.MemberID.String())
		return RecordSignalResult{OnCooldown: true, Multiplier: 1}, nil
	}

	row, err := h.repo.ReadProgression(ctx, signal.GuildID, signal.MemberID)
	switch {
	case err == nil:
	case isNotFound(err):
		row = progression.NewProgression(signal.GuildID, signal.MemberID, h.curve)
	default:
		return RecordSignalResult{}, shared.WrapError("progression", "Accumulate",
			shared.ErrExternalService, "read progression failed", err)
	}

	magnitude, err := h.resolver.Resolve(ctx, signal.GuildID, signal.MemberID)
	if err != nil {
		// Degrade to the neutral factor; gain must not stall on the
		// multiplier path.
		h.logger.Warn("multiplier lookup failed, using factor 1",
			"guild_id", signal.GuildID.String(), "error", err)
		magnitude = 1
	}

	baseGain := h.gains[signal.Kind]
	effectiveGain := baseGain * shared.XP(magnitude)

	oldLevel := row.Level
	levelChanged := row.Apply(effectiveGain, h.curve, h.now())

	h.queue.Enqueue(key.String(), row.Snapshot())

	h.publish(ctx, shared.NewExperienceGainedEvent(
		signal.GuildID.String(), signal.MemberID.String(),
		baseGain.Int64(), effectiveGain.Int64(), row.Experience.Int64(), magnitude))

	if levelChanged {
		h.logger.Info("level changed",
			"guild_id", signal.GuildID.String(),
			"member_id", signal.MemberID.String(),
			"old_level", oldLevel,
			"new_level", row.Level)
		h.publish(ctx, shared.NewLevelChangedEvent(
			signal.GuildID.String(), signal.MemberID.String(), oldLevel, row.Level))
	}

	return RecordSignalResult{
		Accepted:      true,
		Multiplier:    magnitude,
		NewExperience: row.Experience,
		OldLevel:      oldLevel,
		NewLevel:      row.Level,
		LevelChanged:  levelChanged,
	}, nil
}

func (h *RecordSignalHandler) publish(ctx context.Context, event shared.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish event",
			"event_type", string(event.EventType()), "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
