// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Rate limiting: budget exhausted or limiter unavailable (429)
// - Authorization errors: admin token missing or wrong
// - Not found errors: bucket has no active window
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error      string            `json:"error"`                 // Error type (always "error")
	Message    string            `json:"message"`               // Human-readable error description
	Code       string            `json:"code,omitempty"`        // Machine-readable error code
	Details    map[string]string `json:"details,omitempty"`     // Extra context
	RetryAfter int64             `json:"retry_after,omitempty"` // Seconds until a retry can succeed
	Timestamp  time.Time         `json:"timestamp"`             // Error occurrence time
	RequestID  string            `json:"request_id,omitempty"`  // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// BucketStatusResponse describes the current window of one bucket key.
type BucketStatusResponse struct {
	Key       string     `json:"key"`
	Active    bool       `json:"active"`
	Count     int        `json:"count"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

type BucketResetResponse struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

type SweepResponse struct {
	Removed int       `json:"removed"`
	SweptAt time.Time `json:"swept_at"`
}

// MessageResponse is returned by the demo endpoints behind the limiter.
type MessageResponse struct {
	Message   string    `json:"message"`
	Client    string    `json:"client,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound               = "NOT_FOUND"                // 404: Resource doesn't exist
	ErrorCodeBadRequest             = "BAD_REQUEST"              // 400: Invalid request format
	ErrorCodeInvalidRequest         = "INVALID_REQUEST"          // 400: Invalid request data
	ErrorCodeInternalError          = "INTERNAL_ERROR"           // 500: Server-side error
	ErrorCodeUnauthorized           = "UNAUTHORIZED"             // 401: Authentication required
	ErrorCodeServiceUnavailable     = "SERVICE_UNAVAILABLE"      // 503: Service temporarily down
	ErrorCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"      // 429: Budget exhausted for the window
	ErrorCodeRateLimiterUnavailable = "RATE_LIMITER_UNAVAILABLE" // 429: Store down under fail-closed
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// AddComponentDetail attaches a detail value to an already registered component.
func (h *HealthCheckResponse) AddComponentDetail(name, key string, value interface{}) {
	c, ok := h.Components[name]
	if !ok {
		return
	}
	c.Details[key] = value
	h.Components[name] = c
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
