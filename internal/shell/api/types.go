package api

import (
	"time"

	"github.com/artpar/deployer/internal/core/envelope"
)

// =============================================================================
// Response Types
// =============================================================================

// ActivationResponse describes a queued activation. Result is set once it finished.
type ActivationResponse struct {
	ID            string                `json:"id"`
	SourceURL     string                `json:"source_url"`
	ManifestPath  string                `json:"manifest_path,omitempty"`
	APIHost       string                `json:"api_host,omitempty"`
	Status        string                `json:"status"`
	FailureReason string                `json:"failure_reason,omitempty"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	ErrorDetail   string                `json:"error_detail,omitempty"`
	Result        *envelope.JobEnvelope `json:"result,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	FinishedAt    *time.Time            `json:"finished_at,omitempty"`
}

// ListActivationsResponse is the response for listing activations.
type ListActivationsResponse struct {
	Activations []ActivationResponse `json:"activations"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// EnqueueResponse is returned when an activation is queued.
type EnqueueResponse struct {
	ActivationID string `json:"activationId"`
	Status       string `json:"status"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
