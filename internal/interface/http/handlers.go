// Package http exposes the engine over REST.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/guildhaven/guild-haven-bot/config"
	"github.com/guildhaven/guild-haven-bot/internal/application/command"
	"github.com/guildhaven/guild-haven-bot/internal/application/query"
	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Guild Haven Progression API",
		"version":     "v1",
		"description": "REST API for the guild progression and temporal grant engine",
		"endpoints": map[string]string{
			"health":      "/health",
			"leaderboard": "/api/v1/guilds/{guild}/leaderboard",
			"status":      "/api/v1/guilds/{guild}/members/{id}/status",
			"grants":      "/api/v1/guilds/{guild}/grants",
			"ingest":      "/ingest/signals",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleMetrics serves basic engine metrics as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"uptime_seconds": s.Uptime().Seconds(),
		"running":        s.IsRunning(),
	}

	if s.deps.Flusher != nil {
		metrics["pending_flush_keys"] = s.deps.Flusher.PendingKeys()
	}

	writeJSON(w, http.StatusOK, metrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/guilds/{guild}/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLeaderboardHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	q := query.GetLeaderboardQuery{
		GuildID: shared.GuildID(r.PathValue("guild")),
		Limit:   getQueryParamInt(r, "limit", 20),
		Offset:  getQueryParamInt(r, "offset", 0),
	}

	result, err := s.deps.GetLeaderboardHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrInvalidInput) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to get leaderboard", logger.Err(err), logger.GuildID(r.PathValue("guild")))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to get leaderboard")
		return
	}

	meta := &ResponseMeta{
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	}

	writeJSONWithMeta(w, http.StatusOK, result, meta)
}

// handleGetMemberStatus handles GET /api/v1/guilds/{guild}/members/{id}/status
func (s *Server) handleGetMemberStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetMemberStatusHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Status handler not configured")
		return
	}

	q := query.GetMemberStatusQuery{
		GuildID:  shared.GuildID(r.PathValue("guild")),
		MemberID: shared.MemberID(r.PathValue("id")),
	}

	result, err := s.deps.GetMemberStatusHandler.Handle(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrInvalidInput) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to get member status", logger.Err(err),
			logger.GuildID(r.PathValue("guild")), logger.MemberID(r.PathValue("id")))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to get member status")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// GRANT ADMINISTRATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// CreateGrantRequest is the request body for POST /api/v1/guilds/{guild}/grants.
type CreateGrantRequest struct {
	MemberID     string `json:"member_id,omitempty"`
	Kind         string `json:"kind"`
	Role         string `json:"role,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Magnitude    int    `json:"magnitude,omitempty"`
	DurationSecs int64  `json:"duration_secs,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// CreateGrantResponse carries the new grant's ID.
type CreateGrantResponse struct {
	GrantID string `json:"grant_id"`
}

// handleCreateGrant handles POST /api/v1/guilds/{guild}/grants
func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	if s.deps.GrantTemporalHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Grant handler not configured")
		return
	}

	var req CreateGrantRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	cmd := command.GrantTemporalCommand{
		GuildID:      shared.GuildID(r.PathValue("guild")),
		MemberID:     shared.MemberID(req.MemberID),
		Kind:         grant.Kind(req.Kind),
		Role:         shared.RoleRef(req.Role),
		Reason:       req.Reason,
		Magnitude:    req.Magnitude,
		DurationDays: req.DurationDays,
	}
	if req.DurationSecs > 0 {
		d := time.Duration(req.DurationSecs) * time.Second
		cmd.Duration = &d
	}

	grantID, err := s.deps.GrantTemporalHandler.Handle(r.Context(), cmd)
	if err != nil {
		if isClientError(err) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to create grant", logger.Err(err), logger.GuildID(r.PathValue("guild")))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to create grant")
		return
	}

	writeJSON(w, http.StatusCreated, CreateGrantResponse{GrantID: grantID})
}

// handleRevokeGrant handles DELETE /api/v1/guilds/{guild}/grants/{id}
func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	if s.deps.GrantTemporalHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Grant handler not configured")
		return
	}

	guildID := shared.GuildID(r.PathValue("guild"))
	grantID := r.PathValue("id")
	if grantID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Grant ID is required")
		return
	}

	if err := s.deps.GrantTemporalHandler.Revoke(r.Context(), guildID, grantID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Grant not found")
			return
		}
		s.logger.Error("failed to revoke grant", logger.Err(err), logger.GrantID(grantID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to revoke grant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONAL FORCE HOOKS
// ══════════════════════════════════════════════════════════════════════════════

// handleForceFlush handles POST /api/v1/admin/flush
func (s *Server) handleForceFlush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Flusher == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Flusher not configured")
		return
	}

	pending := s.deps.Flusher.PendingKeys()
	s.deps.Flusher.FlushAll()

	s.logger.Info("forced flush of pending updates", logger.Int("pending_keys", pending))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "flushed",
		"pending_keys": pending,
	})
}

// handleForceSweep handles POST /api/v1/admin/sweep
func (s *Server) handleForceSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sweeper not configured")
		return
	}

	stats, err := s.deps.Sweeper.ForceSweep(r.Context())
	if err != nil {
		s.logger.Error("forced sweep failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Sweep failed")
		return
	}

	s.logger.Info("forced grant sweep",
		logger.Int("scanned", stats.Scanned),
		logger.Int("removed", stats.Removed),
		logger.Int("failed", stats.Failed))
	writeJSON(w, http.StatusOK, stats)
}

// handleListFeatures handles GET /api/v1/admin/features
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Feature flags not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Features.GetAllFeatures())
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL INGEST HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// IngestSignalRequest is the gateway collaborator's signal payload.
type IngestSignalRequest struct {
	GuildID   string `json:"guild_id"`
	MemberID  string `json:"member_id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp,omitempty"` // Unix seconds; zero means now
}

// IngestSignalResponse reports what the accumulator did with the signal.
type IngestSignalResponse struct {
	Accepted      bool  `json:"accepted"`
	OnCooldown    bool  `json:"on_cooldown"`
	Multiplier    int   `json:"multiplier"`
	NewExperience int64 `json:"new_experience,omitempty"`
	NewLevel      int   `json:"new_level,omitempty"`
	LevelChanged  bool  `json:"level_changed"`
}

// handleIngestSignal handles POST /ingest/signals
func (s *Server) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	s.processIngestSignal(w, r, "")
}

// handleIngestSignalWithSecret handles POST /ingest/signals/{secret}
func (s *Server) handleIngestSignalWithSecret(w http.ResponseWriter, r *http.Request) {
	s.processIngestSignal(w, r, r.PathValue("secret"))
}

// processIngestSignal is the internal implementation for signal ingest.
func (s *Server) processIngestSignal(w http.ResponseWriter, r *http.Request, secret string) {
	// Validate secret if configured
	if s.config.IngestSecret != "" && secret != s.config.IngestSecret {
		s.logger.Warn("invalid ingest secret", logger.String("ip", getClientIP(r)))
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid ingest secret")
		return
	}

	if s.deps.RecordSignalHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Signal handler not configured")
		return
	}

	var req IngestSignalRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	if s.deps.Features != nil {
		fctx := &config.FeatureContext{MemberID: req.MemberID, GuildID: req.GuildID}
		if !s.deps.Features.SignalKindEnabled(req.Kind, fctx) {
			writeJSON(w, http.StatusOK, IngestSignalResponse{Accepted: false})
			return
		}
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.Unix(req.Timestamp, 0)
	}

	cmd := command.RecordSignalCommand{
		Signal: progression.ActivitySignal{
			GuildID:   shared.GuildID(req.GuildID),
			MemberID:  shared.MemberID(req.MemberID),
			Kind:      progression.SignalKind(req.Kind),
			Timestamp: ts,
		},
		CorrelationID: getCorrelationID(r.Context()),
	}

	result, err := s.deps.RecordSignalHandler.Handle(r.Context(), cmd)
	if err != nil {
		if isClientError(err) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("failed to record signal", logger.Err(err),
			logger.GuildID(req.GuildID), logger.MemberID(req.MemberID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to record signal")
		return
	}

	writeJSON(w, http.StatusOK, IngestSignalResponse{
		Accepted:      result.Accepted,
		OnCooldown:    result.OnCooldown,
		Multiplier:    result.Multiplier,
		NewExperience: result.NewExperience.Int64(),
		NewLevel:      result.NewLevel,
		LevelChanged:  result.LevelChanged,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON request body with a 1MB limit.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// isClientError reports whether the error is the caller's fault.
func isClientError(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrInvalidInput) ||
		errors.Is(err, shared.ErrInvalidID) ||
		errors.Is(err, shared.ErrValueOutOfRange) ||
		errors.Is(err, shared.ErrNotFound)
}
