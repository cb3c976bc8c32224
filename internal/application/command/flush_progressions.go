// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/batching"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION FLUSHER
// The batch-processing function behind the update batching queue: one call
// per debounce window, receiving the ordered pending payloads for a key.
// ══════════════════════════════════════════════════════════════════════════════

// CacheInvalidator eagerly drops cache entries after a write.
// Implemented by statuscache.Cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
	InvalidateScope(ctx context.Context, guildID shared.GuildID) error
}

// NewProgressionFlusher builds the batching.FlushFunc that persists coalesced
// progression updates. Each payload carries the full row state, so the last
// payload in the window supersedes the earlier ones; one write per flush.
// The guild's cached reads are invalidated after a successful write.
func NewProgressionFlusher(repo progression.Repository, cache CacheInvalidator, logger *slog.Logger) batching.FlushFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "progression_flusher")

	return func(ctx context.Context, key string, payloads []batching.Payload) error {
		if len(payloads) == 0 {
			return nil
		}

		last, ok := payloads[len(payloads)-1].Value.(*progression.Progression)
		if !ok {
			return fmt.Errorf("flush %s: unexpected payload type %T", key, payloads[len(payloads)-1].Value)
		}

		if err := repo.WriteProgression(ctx, last); err != nil {
			// The batch is dropped, not requeued; the next activity
			// signal re-reads the stored row and re-enqueues.
			return fmt.Errorf("flush %s: %w", key, err)
		}

		if cache != nil {
			if err := cache.InvalidateScope(ctx, last.GuildID); err != nil {
				logger.Warn("cache invalidation failed after flush",
					"guild_id", last.GuildID.String(), "error", err)
			}
		}

		logger.Debug("progression flushed",
			"key", key,
			"coalesced", len(payloads),
			"experience", last.Experience.Int64())
		return nil
	}
}
