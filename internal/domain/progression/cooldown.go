package progression

import (
	"sync"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COOLDOWN GATE
// ══════════════════════════════════════════════════════════════════════════════

// CooldownGate throttles experience gain per (guild, member). A member whose
// last accepted signal is within the window gains nothing; the signal is a
// no-op. State lives in memory only and is pruned lazily.
type CooldownGate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[shared.MemberKey]time.Time
	now    func() time.Time

	// Lazy pruning: every pruneAfter accepts, entries older than the
	// window are dropped.
	pruneAfter int
	accepts    int
}

// DefaultCooldownWindow is the window applied when none is configured.
const DefaultCooldownWindow = 60 * time.Second

// NewCooldownGate creates a gate with the given window.
// A non-positive window disables throttling.
func NewCooldownGate(window time.Duration) *CooldownGate {
	return &CooldownGate{
		window:     window,
		last:       make(map[shared.MemberKey]time.Time),
		now:        time.Now,
		pruneAfter: 1024,
	}
}

// WithClock overrides the gate's time source. Intended for tests.
func (g *CooldownGate) WithClock(now func() time.Time) *CooldownGate {
	g.now = now
	return g
}

// TryAccept reports whether a signal for the key may gain experience now.
// An accepted signal starts a new cooldown window for the key.
func (g *CooldownGate) TryAccept(key shared.MemberKey) bool {
	if g.window <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.window {
		return false
	}

	g.last[key] = now
	g.accepts++
	if g.accepts >= g.pruneAfter {
		g.pruneLocked(now)
		g.accepts = 0
	}
	return true
}

// Prune drops all entries whose window has already elapsed and returns
// the number removed. The scheduler calls this as a backstop; the gate
// also prunes itself lazily on accept.
func (g *CooldownGate) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pruneLocked(g.now())
}

func (g *CooldownGate) pruneLocked(now time.Time) int {
	removed := 0
	for key, last := range g.last {
		if now.Sub(last) >= g.window {
			delete(g.last, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (g *CooldownGate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
