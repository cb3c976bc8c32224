package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

const testGuild = shared.GuildID("123456789012345678")

func testThresholds() []Threshold {
	return []Threshold{
		{GuildID: testGuild, Level: 5, Role: "100"},
		{GuildID: testGuild, Level: 10, Role: "200"},
		{GuildID: testGuild, Level: 20, Role: "300", SupersededBy: "400"},
		{GuildID: testGuild, Level: 40, Role: "400"},
	}
}

func TestBuildPlan_GrantsEarnedTiers(t *testing.T) {
	plan := BuildPlan(testThresholds(), 12, nil)
	assert.Equal(t, []shared.RoleRef{"100", "200"}, plan.ToGrant)
	assert.Empty(t, plan.ToRevoke)
}

func TestBuildPlan_BelowEveryThreshold(t *testing.T) {
	plan := BuildPlan(testThresholds(), 1, nil)
	assert.True(t, plan.Empty())
}

func TestBuildPlan_TiersAreAdditive(t *testing.T) {
	// Leveling past a tier never revokes it unless a supersession says so.
	plan := BuildPlan(testThresholds(), 15, []shared.RoleRef{"100", "200"})
	assert.True(t, plan.Empty())
}

func TestBuildPlan_Supersession(t *testing.T) {
	// At level 25 role 300 is earned and not yet superseded.
	plan := BuildPlan(testThresholds(), 25, []shared.RoleRef{"100", "200"})
	assert.Equal(t, []shared.RoleRef{"300"}, plan.ToGrant)
	assert.Empty(t, plan.ToRevoke)

	// At level 40 tier 400 supersedes 300: grant the new tier, revoke the old.
	plan = BuildPlan(testThresholds(), 40, []shared.RoleRef{"100", "200", "300"})
	assert.Equal(t, []shared.RoleRef{"400"}, plan.ToGrant)
	assert.Equal(t, []shared.RoleRef{"300"}, plan.ToRevoke)
}

func TestBuildPlan_SupersededRoleNotHeld(t *testing.T) {
	// Nothing to revoke when the superseded role was never held.
	plan := BuildPlan(testThresholds(), 40, []shared.RoleRef{"100", "200", "400"})
	assert.Empty(t, plan.ToRevoke)
	assert.Empty(t, plan.ToGrant)
}

func TestBuildPlan_Idempotent(t *testing.T) {
	thresholds := testThresholds()
	held := []shared.RoleRef{"100"}

	plan := BuildPlan(thresholds, 40, held)

	// Apply the plan to the held set, then re-plan: nothing left to do.
	next := map[shared.RoleRef]bool{}
	for _, r := range held {
		next[r] = true
	}
	for _, r := range plan.ToGrant {
		next[r] = true
	}
	for _, r := range plan.ToRevoke {
		delete(next, r)
	}
	var updated []shared.RoleRef
	for r := range next {
		updated = append(updated, r)
	}

	assert.True(t, BuildPlan(thresholds, 40, updated).Empty())
}

func TestThreshold_Validate(t *testing.T) {
	valid := Threshold{GuildID: testGuild, Level: 5, Role: "100"}
	assert.NoError(t, valid.Validate())

	badGuild := valid
	badGuild.GuildID = "guild"
	assert.ErrorIs(t, badGuild.Validate(), shared.ErrInvalidGuildID)

	badLevel := valid
	badLevel.Level = 0
	assert.ErrorIs(t, badLevel.Validate(), shared.ErrInvalidThreshold)

	badRole := valid
	badRole.Role = ""
	assert.ErrorIs(t, badRole.Validate(), shared.ErrInvalidThreshold)
}
