package chatapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

const (
	testGuild  = shared.GuildID("123456789012345678")
	testMember = shared.MemberID("876543210987654321")
)

// testClient builds a client against the given server with the rate limiter
// opened up so tests do not wait on the token bucket.
func testClient(serverURL string) *Client {
	cfg := DefaultClientConfig(serverURL, "test-token")
	cfg.Timeout = 2 * time.Second
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RateLimiterConfig = RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		WaitTimeout:       time.Second,
	}
	return NewClient(cfg)
}

func TestClient_GrantRole(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotReason string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotReason = r.Header.Get("X-Audit-Log-Reason")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := testClient(server.URL)
	err := client.GrantRole(context.Background(), testGuild, testMember, "500", "reached level 10")

	assert.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/guilds/123456789012345678/members/876543210987654321/roles/500", gotPath)
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Equal(t, "reached level 10", gotReason)
}

func TestClient_RevokeRole_NotFoundIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": 10011, "message": "Unknown Role"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	// The member not holding the role is the end state we wanted.
	assert.NoError(t, client.RevokeRole(context.Background(), testGuild, testMember, "500", "expired"))
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": 10011, "message": "Unknown Role"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	// More idempotent revokes than the breaker's failure threshold.
	for i := 0; i < 5; i++ {
		assert.NoError(t, client.RevokeRole(ctx, testGuild, testMember, "500", "expired"))
	}
	assert.Equal(t, "closed", client.Status().CircuitState,
		"4xx responses must not open the circuit")
}

func TestClient_CurrentRoles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/guilds/123456789012345678/members/876543210987654321", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id": "876543210987654321", "roles": ["100", "200"]}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	roles, err := client.CurrentRoles(context.Background(), testGuild, testMember)

	assert.NoError(t, err)
	assert.Equal(t, []shared.RoleRef{"100", "200"}, roles)
}

func TestClient_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code": 50013, "message": "Missing Permissions"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	err := client.GrantRole(context.Background(), testGuild, testMember, "500", "")

	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, 50013, apiErr.Code)
	assert.Equal(t, int64(1), calls.Load(), "4xx responses must not be retried")
}

func TestClient_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := testClient(server.URL)
	assert.NoError(t, client.GrantRole(context.Background(), testGuild, testMember, "500", ""))
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_IsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	assert.True(t, testClient(healthy.URL).IsHealthy(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	assert.False(t, testClient(down.URL).IsHealthy(context.Background()))
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{StatusCode: 403, Code: 50013, Message: "Missing Permissions"}
	assert.Equal(t, "chatapi: status 403 code 50013: Missing Permissions", err.Error())
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         3,
		WaitTimeout:       10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.TryAllow(), "burst request %d should pass", i)
	}
	assert.False(t, rl.TryAllow(), "bucket should be empty after the burst")

	rl.Reset()
	assert.True(t, rl.TryAllow())
}

func TestRateLimiter_RecordRateLimitHit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		WaitTimeout:       10 * time.Millisecond,
	})

	rl.RecordRateLimitHit(30 * time.Second)

	status := rl.Status()
	assert.Less(t, status.RefillRate, 10.0, "hit must slow the refill rate")
	assert.False(t, rl.TryAllow(), "bucket drains after a platform 429")

	var rlErr *RateLimitError
	assert.ErrorAs(t, rl.Allow(context.Background()), &rlErr, "Allow should time out with a RateLimitError")
}
