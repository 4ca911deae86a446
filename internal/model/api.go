package model

import (
	"fmt"
	"math"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// UpdateOffsetsRequest is the request body for PUT /api/offsets.
// Only the sensors present in the map are updated.
type UpdateOffsetsRequest struct {
	Offsets map[string]float64 `json:"offsets"`
}

// Validate rejects non-finite offset values before they reach the store.
func (r UpdateOffsetsRequest) Validate() error {
	if len(r.Offsets) == 0 {
		return fmt.Errorf("offsets: at least one sensor is required")
	}
	for id, v := range r.Offsets {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("offsets: %s: value must be finite", id)
		}
	}
	return nil
}

// OffsetsResponse is the body for GET /api/offsets and offset mutations.
type OffsetsResponse struct {
	Offsets map[string]float64 `json:"offsets"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status           string             `json:"status"` // "ok" or "degraded"
	Version          string             `json:"version"`
	RunID            string             `json:"run_id"`
	Frozen           bool               `json:"frozen"`
	FreezeCount      int                `json:"freeze_count"`
	LastFrameLagMS   int64              `json:"last_frame_lag_ms"`
	QueueDepth       int                `json:"queue_depth"`
	DroppedRecords   int64              `json:"dropped_records"`
	DegradedChannels []string           `json:"degraded_channels,omitempty"`
	Clients          map[string]*Client `json:"clients,omitempty"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
}

// Client is the last-known state of one connected browser tab.
type Client struct {
	LastSeen  time.Time       `json:"last_seen"`
	Visible   bool            `json:"visible"`
	Throttled bool            `json:"throttled"`
	LastEvent ClientEventType `json:"last_event"`
}
