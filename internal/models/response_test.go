package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	before := time.Now()
	resp := NewErrorResponse("Rate limit exceeded", ErrorCodeRateLimitExceeded)

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "Rate limit exceeded", resp.Message)
	assert.Equal(t, ErrorCodeRateLimitExceeded, resp.Code)
	assert.False(t, resp.Timestamp.Before(before))
	assert.Empty(t, resp.RequestID)
}

func TestErrorResponse_JSONOmitsEmptyFields(t *testing.T) {
	resp := NewErrorResponse("nope", ErrorCodeUnauthorized)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "retry_after")
	assert.NotContains(t, decoded, "request_id")
	assert.NotContains(t, decoded, "details")
	assert.Equal(t, "UNAUTHORIZED", decoded["code"])
}

func TestNewHealthCheckResponse(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.NotNil(t, resp.Components)
	assert.NotNil(t, resp.Metrics)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthCheckResponse_AddComponent(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)
	resp.AddComponent("store", StatusHealthy, "Counter store is reachable")

	require.Contains(t, resp.Components, "store")
	comp := resp.Components["store"]
	assert.Equal(t, StatusHealthy, comp.Status)
	assert.Equal(t, "Counter store is reachable", comp.Message)
	assert.NotNil(t, comp.Details)
}

func TestHealthCheckResponse_AddComponentDetail(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)
	resp.AddComponent("host", StatusHealthy, "ok")
	resp.AddComponentDetail("host", "mem_used_pct", 42.5)
	resp.AddComponentDetail("missing", "ignored", true)

	assert.Equal(t, 42.5, resp.Components["host"].Details["mem_used_pct"])
	assert.NotContains(t, resp.Components, "missing")
}

func TestHealthCheckResponse_AddMetric(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)
	resp.AddMetric("rate_limit_window_seconds", 60)

	assert.Equal(t, 60, resp.Metrics["rate_limit_window_seconds"])
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []string{
		ErrorCodeNotFound,
		ErrorCodeBadRequest,
		ErrorCodeInvalidRequest,
		ErrorCodeInternalError,
		ErrorCodeUnauthorized,
		ErrorCodeServiceUnavailable,
		ErrorCodeRateLimitExceeded,
		ErrorCodeRateLimiterUnavailable,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate error code %s", code)
		seen[code] = true
	}
}

func TestBucketStatusResponse_OmitsResetWhenInactive(t *testing.T) {
	resp := BucketStatusResponse{Key: "10.0.0.1:/login", Limit: 3, Remaining: 3}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "reset_at")
}
