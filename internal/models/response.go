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

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

type HealthCheckResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// PolicyInfo describes one configured rate limit policy.
type PolicyInfo struct {
	Name         string  `json:"name"`
	Algorithm    string  `json:"algorithm"`
	MaxUnits     int     `json:"max_units"`
	Window       string  `json:"window,omitempty"`
	RefillRate   float64 `json:"refill_rate,omitempty"`
	RefillPeriod string  `json:"refill_period,omitempty"`
	SharedBucket bool    `json:"shared_bucket"`
	TrackedKeys  int     `json:"tracked_keys"`
}

type ListPoliciesResponse struct {
	Policies   []PolicyInfo `json:"policies"`
	TotalCount int          `json:"total_count"`
}

// PolicyStatusResponse reports a non-consuming admission check.
type PolicyStatusResponse struct {
	Policy     string    `json:"policy"`
	Identifier string    `json:"identifier"`
	Admitted   bool      `json:"admitted"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	TotalHits  int       `json:"total_hits"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int64     `json:"retry_after"`
}

type CleanupResponse struct {
	Removed map[string]int `json:"removed"`
	Total   int            `json:"total"`
}

type ListViolationsResponse struct {
	Violations []*Violation `json:"violations"`
	TotalCount int          `json:"total_count"`
	Returned   int          `json:"returned"`
}

// ErrorResponse provides consistent error information across all endpoints.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodePolicyNotFound     = "POLICY_NOT_FOUND"    // 404: Rate limit policy doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Admission rejected
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream failed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewSuccessResponse(message string, data interface{}) *SuccessResponse {
	return &SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}
