package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIDE-EFFECT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// RemovalReason distinguishes why a grant's side effect is being undone.
type RemovalReason string

const (
	// ReasonExpired - the sweep found the grant past its expiry.
	ReasonExpired RemovalReason = "expired"

	// ReasonRevoked - the grant was revoked before its expiry.
	ReasonRevoked RemovalReason = "revoked"
)

// SideEffectHandler undoes the effect of a grant when it is removed
// (e.g. take the temporary role back, lift the block entry).
//
// Handlers must be idempotent: if the effect is already undone (the member
// no longer has the role, the block entry is already gone) the handler
// must report success, not failure.
type SideEffectHandler interface {
	// Kind returns the grant kind this handler serves.
	Kind() Kind

	// OnRemove undoes the grant's side effect.
	OnRemove(ctx context.Context, g *TemporalGrant, reason RemovalReason) error
}

// ApplyHandler is an optional extension of SideEffectHandler for kinds whose
// grant has an external effect to establish at creation time. Temp roles use
// it to assign the role; kinds whose force comes purely from reads (block
// entries, multipliers) do not implement it.
//
// OnApply must be idempotent for the same reason OnRemove is: a rolled-back
// creation may be retried by the caller.
type ApplyHandler interface {
	// OnApply establishes the grant's side effect.
	OnApply(ctx context.Context, g *TemporalGrant) error
}

// NopHandler is a SideEffectHandler with no side effect, for kinds whose
// removal needs no external action (multipliers simply stop resolving).
type NopHandler struct {
	K Kind
}

// Kind implements SideEffectHandler.
func (h NopHandler) Kind() Kind { return h.K }

// OnRemove implements SideEffectHandler.
func (h NopHandler) OnRemove(context.Context, *TemporalGrant, RemovalReason) error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// EVENT PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// EventPublisher publishes domain events. Satisfied by the messaging bus.
type EventPublisher interface {
	Publish(ctx context.Context, event shared.Event) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// Registry is the generic store of temporal grants. It creates grants with a
// derived expiry, revokes them early on request, and sweeps expired ones on a
// schedule, dispatching each removal to the kind's side-effect handler.
type Registry struct {
	repo     Repository
	bus      EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	maxMulti int

	mu       sync.RWMutex
	handlers map[Kind]SideEffectHandler
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Bus receives GrantExpired / GrantRevoked events. Optional.
	Bus EventPublisher

	// MaxMultiplier caps the magnitude accepted for multiplier grants.
	MaxMultiplier int

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// DefaultMaxMultiplier is the magnitude cap applied when none is configured.
const DefaultMaxMultiplier = 5

// NewRegistry creates a Registry over the given repository.
func NewRegistry(repo Repository, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = DefaultMaxMultiplier
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Registry{
		repo:     repo,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With("component", "grant_registry"),
		now:      cfg.Clock,
		maxMulti: cfg.MaxMultiplier,
		handlers: make(map[Kind]SideEffectHandler),
	}
}

// Register installs the side-effect handler for a kind. Called once per kind
// at startup; a later registration for the same kind replaces the earlier one.
func (r *Registry) Register(h SideEffectHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

func (r *Registry) handler(kind Kind) (SideEffectHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Grant creates a new temporal grant and returns its ID.
// A nil duration creates a never-expiring grant (used by block entries with
// no term given). Multiplier magnitudes outside [1, MaxMultiplier] are
// rejected; an existing multiplier for the same pair is replaced so at most
// one is ever active per (guild, member).
func (r *Registry) Grant(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, kind Kind, payload map[string]interface{}, duration *time.Duration) (string, error) {
	if !kind.IsValid() {
		return "", shared.ErrUnknownGrantKind
	}
	if !guildID.IsValid() {
		return "", shared.ErrInvalidGuildID
	}
	if memberID == "" && kind != KindMultiplier {
		return "", shared.ErrInvalidMemberID
	}

	if kind == KindMultiplier {
		g := &TemporalGrant{Payload: payload}
		if m := g.Magnitude(); m < 1 || m > r.maxMulti {
			return "", shared.ErrInvalidMagnitude
		}
		// At most one multiplier per (guild, member) pair.
		if prev, err := r.repo.ReadMultiplier(ctx, guildID, memberID); err == nil {
			if delErr := r.repo.Delete(ctx, prev.ID); delErr != nil {
				return "", fmt.Errorf("grant: replace multiplier: %w", delErr)
			}
		} else if !errors.Is(err, shared.ErrNotFound) {
			return "", fmt.Errorf("grant: read multiplier: %w", err)
		}
	}

	g := newGrant(guildID, memberID, kind, payload, duration, r.now())
	if err := r.repo.Insert(ctx, g); err != nil {
		return "", fmt.Errorf("grant: insert: %w", err)
	}

	// Establish the grant's external effect, if the kind has one. The insert
	// is rolled back on failure so a grant row never outlives a missing
	// effect (a temp-role row whose role was never assigned would make the
	// eventual sweep revoke a role the member does not hold).
	if h, ok := r.handler(kind); ok {
		if applier, ok := h.(ApplyHandler); ok {
			if err := applier.OnApply(ctx, g); err != nil {
				if delErr := r.repo.Delete(ctx, g.ID); delErr != nil {
					r.logger.Error("rollback of unapplied grant failed",
						"grant_id", g.ID, "error", delErr)
				}
				return "", shared.WrapError("grant", "Grant", shared.ErrExternalService,
					"apply handler failed", err)
			}
		}
	}

	r.logger.Info("grant created",
		"grant_id", g.ID,
		"guild_id", guildID.String(),
		"member_id", memberID.String(),
		"kind", kind.String(),
		"expire_at", g.ExpireAt)

	return g.ID, nil
}

// Revoke deletes a grant immediately, independent of its expiry, after
// running the kind's side-effect handler. A handler failure leaves the grant
// in place so the caller (or the next sweep, for expiring grants) can retry.
func (r *Registry) Revoke(ctx context.Context, grantID string) error {
	g, err := r.repo.GetByID(ctx, grantID)
	if err != nil {
		return err
	}

	if h, ok := r.handler(g.Kind); ok {
		if err := h.OnRemove(ctx, g, ReasonRevoked); err != nil {
			return shared.WrapError("grant", "Revoke", shared.ErrExternalService,
				"side-effect handler failed", err)
		}
	}

	if err := r.repo.Delete(ctx, g.ID); err != nil {
		return fmt.Errorf("grant: delete: %w", err)
	}

	r.logger.Info("grant revoked", "grant_id", g.ID, "kind", g.Kind.String())
	r.publish(ctx, shared.NewGrantRevokedEvent(g.ID, g.GuildID.String(), g.MemberID.String(), g.Kind.String()))
	return nil
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	// Scanned is the number of expired grants in the snapshot.
	Scanned int

	// Removed is the number of grants whose handler succeeded and which
	// were deleted.
	Removed int

	// Failed is the number of grants whose handler failed; they remain
	// and will be retried on the next pass.
	Failed int
}

// Sweep runs a single expiry pass over the current snapshot of expired
// grants. A handler failure for one grant never stops the pass; the failed
// grant stays in place for the next sweep. There is no cancellation of a
// pass once started beyond the context.
func (r *Registry) Sweep(ctx context.Context) (SweepResult, error) {
	now := r.now()
	expired, err := r.repo.ListExpired(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("grant: list expired: %w", err)
	}

	result := SweepResult{Scanned: len(expired)}
	for _, g := range expired {
		h, ok := r.handler(g.Kind)
		if !ok {
			r.logger.Warn("expired grant with no handler, leaving in place",
				"grant_id", g.ID, "kind", g.Kind.String())
			result.Failed++
			continue
		}

		if err := h.OnRemove(ctx, g, ReasonExpired); err != nil {
			r.logger.Error("expiry handler failed, will retry next sweep",
				"grant_id", g.ID, "kind", g.Kind.String(), "error", err)
			result.Failed++
			continue
		}

		if err := r.repo.Delete(ctx, g.ID); err != nil {
			r.logger.Error("failed to delete expired grant",
				"grant_id", g.ID, "error", err)
			result.Failed++
			continue
		}

		result.Removed++
		r.publish(ctx, shared.NewGrantExpiredEvent(g.ID, g.GuildID.String(), g.MemberID.String(), g.Kind.String()))
	}

	if result.Scanned > 0 {
		r.logger.Info("sweep completed",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"failed", result.Failed)
	}

	return result, nil
}

// ForceSweep runs a sweep pass immediately. Alias for Sweep, exposed for
// callers that need deterministic expiry in tests and admin tooling.
func (r *Registry) ForceSweep(ctx context.Context) (SweepResult, error) {
	return r.Sweep(ctx)
}

func (r *Registry) publish(ctx context.Context, event shared.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish grant event",
			"event_type", string(event.EventType()), "error", err)
	}
}
