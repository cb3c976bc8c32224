package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

func TestCooldownGate_TryAccept(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate := NewCooldownGate(60 * time.Second).WithClock(func() time.Time { return now })

	key := shared.NewMemberKey("g1", "m1")

	assert.True(t, gate.TryAccept(key))
	assert.False(t, gate.TryAccept(key), "second signal inside the window must be rejected")

	// One second before the window elapses: still rejected.
	now = now.Add(59 * time.Second)
	assert.False(t, gate.TryAccept(key))

	// Window elapsed: accepted again, and the window restarts.
	now = now.Add(time.Second)
	assert.True(t, gate.TryAccept(key))
	assert.False(t, gate.TryAccept(key))
}

func TestCooldownGate_KeysAreIndependent(t *testing.T) {
	now := time.Now()
	gate := NewCooldownGate(60 * time.Second).WithClock(func() time.Time { return now })

	assert.True(t, gate.TryAccept(shared.NewMemberKey("g1", "m1")))
	assert.True(t, gate.TryAccept(shared.NewMemberKey("g1", "m2")))
	assert.True(t, gate.TryAccept(shared.NewMemberKey("g2", "m1")), "same member in another guild has its own window")
}

func TestCooldownGate_DisabledWindow(t *testing.T) {
	gate := NewCooldownGate(0)
	key := shared.NewMemberKey("g1", "m1")

	assert.True(t, gate.TryAccept(key))
	assert.True(t, gate.TryAccept(key))
	assert.Equal(t, 0, gate.Size(), "disabled gate tracks no state")
}

func TestCooldownGate_Prune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate := NewCooldownGate(60 * time.Second).WithClock(func() time.Time { return now })

	gate.TryAccept(shared.NewMemberKey("g1", "m1"))
	gate.TryAccept(shared.NewMemberKey("g1", "m2"))
	assert.Equal(t, 2, gate.Size())

	// Nothing has expired yet.
	assert.Equal(t, 0, gate.Prune())

	now = now.Add(30 * time.Second)
	gate.TryAccept(shared.NewMemberKey("g1", "m3"))

	now = now.Add(30 * time.Second)
	assert.Equal(t, 2, gate.Prune(), "entries past the window are dropped")
	assert.Equal(t, 1, gate.Size())
}
