// Package chatapi implements the chat platform REST client.
// The engine uses it for exactly one concern: mutating guild member roles.
// Role mutation is rate limited hard by the platform, so every request goes
// through a local token bucket, a circuit breaker, and bounded retries.
package chatapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
	"github.com/guildhaven/guild-haven-bot/pkg/circuitbreaker"
	"github.com/guildhaven/guild-haven-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the platform API client.
type ClientConfig struct {
	// BaseURL is the platform API base URL
	BaseURL string

	// BotToken authenticates the bot
	BotToken string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, botToken string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		BotToken:          botToken,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS AND DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a structured error response from the platform.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("chatapi: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

// memberDTO is the wire shape of a guild member.
type memberDTO struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the platform API client. It implements rank.RoleMutator.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	logger         *slog.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *circuitbreaker.CircuitBreaker
	retrier        *retry.Retrier
}

// NewClient creates a new platform API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "chatapi")

	breaker := circuitbreaker.ChatAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	}, circuitbreaker.WithIsFailure(isBreakerFailure))

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:         logger,
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: breaker,
		retrier: retry.ChatAPIRetrier(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLE OPERATIONS (rank.RoleMutator)
// ══════════════════════════════════════════════════════════════════════════════

// GrantRole assigns a role to a member.
func (c *Client) GrantRole(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, role shared.RoleRef, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID.String()),
		url.PathEscape(memberID.String()),
		url.PathEscape(role.String()),
	)

	if err := c.doRequest(ctx, http.MethodPut, path, reason, nil, nil); err != nil {
		return fmt.Errorf("grant role %s: %w", role.String(), err)
	}
	return nil
}

// RevokeRole removes a role from a member. A 404 for the role binding counts
// as success: the member not holding the role is the desired end state.
func (c *Client) RevokeRole(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID, role shared.RoleRef, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID.String()),
		url.PathEscape(memberID.String()),
		url.PathEscape(role.String()),
	)

	err := c.doRequest(ctx, http.MethodDelete, path, reason, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("revoke role %s: %w", role.String(), err)
	}
	return nil
}

// CurrentRoles returns the roles the member currently holds.
func (c *Client) CurrentRoles(ctx context.Context, guildID shared.GuildID, memberID shared.MemberID) ([]shared.RoleRef, error) {
	path := fmt.Sprintf("/guilds/%s/members/%s",
		url.PathEscape(guildID.String()),
		url.PathEscape(memberID.String()),
	)

	var member memberDTO
	if err := c.doRequest(ctx, http.MethodGet, path, "", nil, &member); err != nil {
		return nil, fmt.Errorf("get member %s: %w", memberID.String(), err)
	}

	roles := make([]shared.RoleRef, len(member.Roles))
	for i, r := range member.Roles {
		roles[i] = shared.RoleRef(r)
	}
	return roles, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a request with rate limiting, circuit breaking, and retries.
func (c *Client) doRequest(ctx context.Context, method, path, auditReason string, body interface{}, result interface{}) error {
	return c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, path, auditReason, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}

			if c.isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path, auditReason string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bot "+c.config.BotToken)
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", auditReason)
	}

	if c.config.Debug {
		c.logger.Debug("platform api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isBreakerFailure keeps client-side rejections from tripping the breaker:
// a 4xx response means the platform is up and refused this particular call
// (a revoke for a role already gone, a permissions gap). Counting those would
// let routine idempotent revokes open the circuit and block all role
// mutations. Rate-limit hits and 5xx responses still count.
func isBreakerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// isRetryable checks if an error is retryable.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	// Network errors are generally retryable
	errStr := err.Error()
	for _, sub := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(errStr, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the platform API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	err := c.doSingleRequest(ctx, http.MethodGet, "/gateway", "", nil, nil)
	return err == nil
}

// ClientStatus is a point-in-time view of the client's protective layers.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	CircuitState  string
	CircuitCounts circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		CircuitState:  c.circuitBreaker.State().String(),
		CircuitCounts: c.circuitBreaker.Counts(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.circuitBreaker.Reset()
}
