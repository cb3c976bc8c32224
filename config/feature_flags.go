package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual rollout support.
// Rollout buckets are assigned by consistent hashing of the member ID,
// so a member stays in the same bucket across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	memberOverrides map[string]map[string]bool // member ID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100).
	// Members are assigned based on hash of their ID.
	RolloutPercent int

	// Guild targeting. Empty means all guilds.
	TargetGuilds []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	MemberID string
	GuildID  string
	IsAdmin  bool
}

// Predefined feature flag names.
const (
	// === Progression Features ===
	FeatureProgressionMessageXP  = "progression.message_xp"  // Award XP for messages
	FeatureProgressionVoiceXP    = "progression.voice_xp"    // Award XP for voice activity
	FeatureProgressionReactionXP = "progression.reaction_xp" // Award XP for reactions

	// === Grant Features ===
	FeatureGrantsMultipliers = "grants.multipliers" // Honor XP multiplier grants
	FeatureGrantsTempRoles   = "grants.temp_roles"  // Temporary role grants
	FeatureGrantsBlockEntry  = "grants.block_entry" // Entry block grants

	// === Rank Features ===
	FeatureRankRoleSync  = "rank.role_sync" // Apply rank roles on level change
	FeatureRankReconcile = "rank.reconcile" // Periodic full role reconciliation

	// === Batching Features ===
	FeatureBatchingDebounce = "batching.debounce" // Debounce member update writes
	FeatureBatchingBypass   = "batching.bypass"   // Write through without delay

	// === Experimental Features ===
	FeatureExperimentalLeaderboardCache = "experimental.leaderboard_cache" // Cache leaderboard pages
	FeatureExperimentalWebhooks         = "experimental.webhooks"          // Real-time webhook updates
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		memberOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Progression features - core to the engine, enabled by default
	ff.features[FeatureProgressionMessageXP] = &Feature{
		Name:           FeatureProgressionMessageXP,
		Description:    "Award experience for messages",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressionVoiceXP] = &Feature{
		Name:           FeatureProgressionVoiceXP,
		Description:    "Award experience for voice activity",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressionReactionXP] = &Feature{
		Name:           FeatureProgressionReactionXP,
		Description:    "Award experience for reactions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Grant features
	ff.features[FeatureGrantsMultipliers] = &Feature{
		Name:           FeatureGrantsMultipliers,
		Description:    "Honor experience multiplier grants",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGrantsTempRoles] = &Feature{
		Name:           FeatureGrantsTempRoles,
		Description:    "Temporary role grants with expiry",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGrantsBlockEntry] = &Feature{
		Name:           FeatureGrantsBlockEntry,
		Description:    "Entry block grants",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Rank features
	ff.features[FeatureRankRoleSync] = &Feature{
		Name:           FeatureRankRoleSync,
		Description:    "Sync rank roles on level change",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRankReconcile] = &Feature{
		Name:           FeatureRankReconcile,
		Description:    "Periodic full role reconciliation",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Batching features
	ff.features[FeatureBatchingDebounce] = &Feature{
		Name:           FeatureBatchingDebounce,
		Description:    "Debounce member update writes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureBatchingBypass] = &Feature{
		Name:           FeatureBatchingBypass,
		Description:    "Write updates through without delay",
		Enabled:        false, // Debugging aid only
		RolloutPercent: 0,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalLeaderboardCache] = &Feature{
		Name:           FeatureExperimentalLeaderboardCache,
		Description:    "Cache leaderboard pages",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExperimentalWebhooks] = &Feature{
		Name:           FeatureExperimentalWebhooks,
		Description:    "Real-time webhook updates",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_RANK_ROLE_SYNC=true
// Example: FEATURE_GRANTS_MULTIPLIERS=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "rank.role_sync" -> "FEATURE_RANK_ROLE_SYNC"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check member overrides first
	if ctx != nil && ctx.MemberID != "" {
		if overrides, ok := ff.memberOverrides[ctx.MemberID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check guild targeting
	if len(feature.TargetGuilds) > 0 && ctx != nil && ctx.GuildID != "" {
		guildMatch := false
		for _, g := range feature.TargetGuilds {
			if g == ctx.GuildID {
				guildMatch = true
				break
			}
		}
		if !guildMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.MemberID != "" {
		return ff.isInRollout(ctx.MemberID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a member is in the rollout percentage.
// Uses consistent hashing so members stay in their bucket.
func (ff *FeatureFlags) isInRollout(memberID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(memberID))
	hash := h.Sum32()

	bucket := int(hash % 100)

	return bucket < percent
}

// SetMemberOverride sets a feature override for a specific member.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetMemberOverride(memberID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.memberOverrides[memberID]; !ok {
		ff.memberOverrides[memberID] = make(map[string]bool)
	}
	ff.memberOverrides[memberID][featureName] = enabled
}

// ClearMemberOverrides removes all overrides for a member.
func (ff *FeatureFlags) ClearMemberOverrides(memberID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.memberOverrides, memberID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// SignalKindEnabled checks if XP accrual for a signal kind is enabled.
func (ff *FeatureFlags) SignalKindEnabled(kind string, ctx *FeatureContext) bool {
	switch kind {
	case "message":
		return ff.IsEnabled(FeatureProgressionMessageXP, ctx)
	case "voice":
		return ff.IsEnabled(FeatureProgressionVoiceXP, ctx)
	case "reaction":
		return ff.IsEnabled(FeatureProgressionReactionXP, ctx)
	default:
		return false
	}
}

// RoleSyncEnabled checks if any rank role mutation path is enabled.
func (ff *FeatureFlags) RoleSyncEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureRankRoleSync, ctx) ||
		ff.IsEnabled(FeatureRankReconcile, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
