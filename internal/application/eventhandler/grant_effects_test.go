package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

func tempRoleGrant(role shared.RoleRef) *grant.TemporalGrant {
	expire := time.Now().Add(-time.Minute)
	return &grant.TemporalGrant{
		ID:       "grant-1",
		GuildID:  testGuild,
		MemberID: testMember,
		Kind:     grant.KindTempRole,
		Payload:  grant.TempRolePayload(role),
		ExpireAt: &expire,
	}
}

func TestTempRoleEffect_AssignsRoleOnApply(t *testing.T) {
	mutator := newFakeMutator()
	effect := NewTempRoleEffect(mutator, nil)

	assert.NoError(t, effect.OnApply(context.Background(), tempRoleGrant("500")))
	assert.Equal(t, []shared.RoleRef{"500"}, mutator.granted)

	// Applying again is idempotent at the collaborator level.
	assert.NoError(t, effect.OnApply(context.Background(), tempRoleGrant("500")))
}

func TestTempRoleEffect_ApplyFailsOnMalformedPayload(t *testing.T) {
	mutator := newFakeMutator()
	effect := NewTempRoleEffect(mutator, nil)

	g := tempRoleGrant("500")
	g.Payload = map[string]interface{}{}
	assert.Error(t, effect.OnApply(context.Background(), g),
		"a temp-role grant without a role cannot be established")
	assert.Empty(t, mutator.granted)
}

func TestTempRoleEffect_RevokesRole(t *testing.T) {
	mutator := newFakeMutator()
	mutator.held[mutator.key(testGuild, testMember)] = []shared.RoleRef{"500"}
	effect := NewTempRoleEffect(mutator, nil)

	assert.Equal(t, grant.KindTempRole, effect.Kind())
	assert.NoError(t, effect.OnRemove(context.Background(), tempRoleGrant("500"), grant.ReasonExpired))
	assert.Equal(t, []shared.RoleRef{"500"}, mutator.revoked)
}

func TestTempRoleEffect_IdempotentWhenRoleGone(t *testing.T) {
	mutator := newFakeMutator()
	effect := NewTempRoleEffect(mutator, nil)

	// The member no longer holds the role; removal still succeeds.
	assert.NoError(t, effect.OnRemove(context.Background(), tempRoleGrant("500"), grant.ReasonRevoked))
	assert.NoError(t, effect.OnRemove(context.Background(), tempRoleGrant("500"), grant.ReasonRevoked))
}

func TestTempRoleEffect_MalformedPayload(t *testing.T) {
	effect := NewTempRoleEffect(newFakeMutator(), nil)

	g := tempRoleGrant("500")
	g.Payload = map[string]interface{}{}
	assert.NoError(t, effect.OnRemove(context.Background(), g, grant.ReasonExpired),
		"nothing to undo for a payload without a role")
}

// recordingInvalidator records invalidated guild scopes.
type recordingInvalidator struct {
	mu     sync.Mutex
	scopes []shared.GuildID
}

func (r *recordingInvalidator) InvalidateScope(_ context.Context, guildID shared.GuildID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, guildID)
	return nil
}

func TestBlockEntryEffect_InvalidatesScope(t *testing.T) {
	cache := &recordingInvalidator{}
	effect := NewBlockEntryEffect(cache, nil)

	g := &grant.TemporalGrant{
		ID:       "grant-2",
		GuildID:  testGuild,
		MemberID: testMember,
		Kind:     grant.KindBlockEntry,
		Payload:  grant.BlockEntryPayload("spam"),
	}

	assert.Equal(t, grant.KindBlockEntry, effect.Kind())
	assert.NoError(t, effect.OnRemove(context.Background(), g, grant.ReasonExpired))
	assert.Equal(t, []shared.GuildID{testGuild}, cache.scopes)
}

func TestBlockEntryEffect_NilCache(t *testing.T) {
	effect := NewBlockEntryEffect(nil, nil)

	g := &grant.TemporalGrant{ID: "grant-3", GuildID: testGuild, Kind: grant.KindBlockEntry}
	assert.NoError(t, effect.OnRemove(context.Background(), g, grant.ReasonRevoked))
}
