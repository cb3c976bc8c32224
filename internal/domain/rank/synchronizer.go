package rank

import (
	"sort"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK ROLE SYNCHRONIZER
// ══════════════════════════════════════════════════════════════════════════════

// Plan is the outcome of diffing desired rank roles against held roles.
// Applying a plan and re-planning with the updated role set yields an
// empty plan: the operation is idempotent.
type Plan struct {
	// ToGrant are desired roles the member does not hold yet.
	ToGrant []shared.RoleRef

	// ToRevoke are held roles explicitly superseded by a higher tier
	// the member has now earned. Nothing else is ever revoked.
	ToRevoke []shared.RoleRef
}

// Empty reports whether the plan requires no mutation.
func (p Plan) Empty() bool {
	return len(p.ToGrant) == 0 && len(p.ToRevoke) == 0
}

// BuildPlan computes the grant/revoke plan for a member at the given level.
//
// The desired set is every threshold role with threshold level ≤ level:
// earned tiers are additive and are never removed purely for leveling
// further. A threshold marked SupersededBy loses its role once the
// superseding tier is itself earned; that role moves to the revoke set
// when the member still holds it. Output sets are sorted for determinism.
func BuildPlan(thresholds []Threshold, level int, currentRoles []shared.RoleRef) Plan {
	earned := make(map[shared.RoleRef]Threshold)
	for _, t := range thresholds {
		if t.Level <= level {
			earned[t.Role] = t
		}
	}

	held := make(map[shared.RoleRef]bool, len(currentRoles))
	for _, role := range currentRoles {
		held[role] = true
	}

	var plan Plan
	for role, t := range earned {
		superseded := t.SupersededBy != "" && hasRole(earned, t.SupersededBy)
		switch {
		case superseded && held[role]:
			plan.ToRevoke = append(plan.ToRevoke, role)
		case !superseded && !held[role]:
			plan.ToGrant = append(plan.ToGrant, role)
		}
	}

	sortRoles(plan.ToGrant)
	sortRoles(plan.ToRevoke)
	return plan
}

func hasRole(earned map[shared.RoleRef]Threshold, role shared.RoleRef) bool {
	_, ok := earned[role]
	return ok
}

func sortRoles(roles []shared.RoleRef) {
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
}
