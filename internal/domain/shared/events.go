// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Progression events
	EventExperienceGained EventType = "progression.experience_gained"
	EventLevelChanged     EventType = "progression.level_changed"
	EventSignalDiscarded  EventType = "progression.signal_discarded"

	// Rank events
	EventRolesSynchronized EventType = "rank.roles_synchronized"
	EventRoleSyncFailed    EventType = "rank.role_sync_failed"

	// Grant events
	EventGrantCreated EventType = "grant.created"
	EventGrantExpired EventType = "grant.expired"
	EventGrantRevoked EventType = "grant.revoked"

	// System events
	EventSweepCompleted EventType = "system.sweep_completed"
	EventBatchFlushed   EventType = "system.batch_flushed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a domain event.
type EventHandler interface {
	Handle(event Event) error
}

// EventHandlerFunc adapts a plain function to the EventHandler interface.
type EventHandlerFunc func(event Event) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(event Event) error {
	return f(event)
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// ExperienceGainedEvent is emitted when a member's experience total changes.
type ExperienceGainedEvent struct {
	BaseEvent
	GuildID       string `json:"guild_id"`
	MemberID      string `json:"member_id"`
	BaseGain      int64  `json:"base_gain"`
	EffectiveGain int64  `json:"effective_gain"`
	Multiplier    int    `json:"multiplier"`
	NewExperience int64  `json:"new_experience"`
}

// Payload implements Event interface.
func (e ExperienceGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"guild_id":       e.GuildID,
		"member_id":      e.MemberID,
		"base_gain":      e.BaseGain,
		"effective_gain": e.EffectiveGain,
		"multiplier":     e.Multiplier,
		"new_experience": e.NewExperience,
	}
}

// NewExperienceGainedEvent creates a new ExperienceGainedEvent.
func NewExperienceGainedEvent(guildID, memberID string, baseGain, effectiveGain, newExperience int64, multiplier int) ExperienceGainedEvent {
	return ExperienceGainedEvent{
		BaseEvent:     NewBaseEvent(EventExperienceGained, guildID+":"+memberID),
		GuildID:       guildID,
		MemberID:      memberID,
		BaseGain:      baseGain,
		EffectiveGain: effectiveGain,
		Multiplier:    multiplier,
		NewExperience: newExperience,
	}
}

// LevelChangedEvent is emitted when a member crosses a level boundary.
// The rank role synchronizer subscribes to this event.
type LevelChangedEvent struct {
	BaseEvent
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"guild_id":  e.GuildID,
		"member_id": e.MemberID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelChangedEvent creates a new LevelChangedEvent.
func NewLevelChangedEvent(guildID, memberID string, oldLevel, newLevel int) LevelChangedEvent {
	return LevelChangedEvent{
		BaseEvent: NewBaseEvent(EventLevelChanged, guildID+":"+memberID),
		GuildID:   guildID,
		MemberID:  memberID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Grant Events
// ═══════════════════════════════════════════════════════════════════════════

// GrantExpiredEvent is emitted when the sweep removes an expired grant.
type GrantExpiredEvent struct {
	BaseEvent
	GrantID  string `json:"grant_id"`
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	Kind     string `json:"kind"`
}

// Payload implements Event interface.
func (e GrantExpiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"grant_id":  e.GrantID,
		"guild_id":  e.GuildID,
		"member_id": e.MemberID,
		"kind":      e.Kind,
	}
}

// NewGrantExpiredEvent creates a new GrantExpiredEvent.
func NewGrantExpiredEvent(grantID, guildID, memberID, kind string) GrantExpiredEvent {
	return GrantExpiredEvent{
		BaseEvent: NewBaseEvent(EventGrantExpired, grantID),
		GrantID:   grantID,
		GuildID:   guildID,
		MemberID:  memberID,
		Kind:      kind,
	}
}

// GrantRevokedEvent is emitted when a grant is revoked before its expiry.
type GrantRevokedEvent struct {
	BaseEvent
	GrantID  string `json:"grant_id"`
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	Kind     string `json:"kind"`
}

// Payload implements Event interface.
func (e GrantRevokedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"grant_id":  e.GrantID,
		"guild_id":  e.GuildID,
		"member_id": e.MemberID,
		"kind":      e.Kind,
	}
}

// NewGrantRevokedEvent creates a new GrantRevokedEvent.
func NewGrantRevokedEvent(grantID, guildID, memberID, kind string) GrantRevokedEvent {
	return GrantRevokedEvent{
		BaseEvent: NewBaseEvent(EventGrantRevoked, grantID),
		GrantID:   grantID,
		GuildID:   guildID,
		MemberID:  memberID,
		Kind:      kind,
	}
}
