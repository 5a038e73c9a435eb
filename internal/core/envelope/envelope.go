// Package envelope shapes a pipeline DeployResult into the response each trigger
// returns: a job result for queued activations and a base64 web response for the
// HTTP action.
// This is part of the Functional Core - all functions are pure with no I/O.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Shaper
// =============================================================================

// Shaper turns the terminal result of one invocation into a trigger's response type.
type Shaper[T any] interface {
	Success(activationID string) T
	Failure(activationID string, f *domain.Failure) T
}

// Build shapes result with s.
func Build[T any](s Shaper[T], activationID string, result domain.DeployResult) T {
	if result.Succeeded() {
		return s.Success(activationID)
	}
	return s.Failure(activationID, result.Failure())
}

// =============================================================================
// Job Envelope (queued job trigger)
// =============================================================================

// StatusSuccess is the status string of a successful deployment.
const StatusSuccess = "success"

// JobStatus is the pipeline's success value.
type JobStatus struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
}

// JobEnvelope is the queued job's result. On success Status and Success are set;
// on failure Error carries the message.
type JobEnvelope struct {
	Status       *JobStatus `json:"status,omitempty"`
	ActivationID string     `json:"activationId"`
	Success      bool       `json:"success,omitempty"`
	Error        string     `json:"error,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Detail       string     `json:"detail,omitempty"`
}

// JobShaper shapes results for the queued job trigger.
type JobShaper struct{}

func (JobShaper) Success(activationID string) JobEnvelope {
	return JobEnvelope{
		Status:       &JobStatus{Status: StatusSuccess, Success: true},
		ActivationID: activationID,
		Success:      true,
	}
}

func (JobShaper) Failure(activationID string, f *domain.Failure) JobEnvelope {
	return JobEnvelope{
		ActivationID: activationID,
		Error:        f.Message,
		Reason:       string(f.Reason),
		Detail:       f.Detail,
	}
}

// =============================================================================
// Web Response (HTTP trigger)
// =============================================================================

// WebResponse is a web action response: the body is base64-encoded JSON.
type WebResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// DecodedBody returns the raw JSON body.
func (r WebResponse) DecodedBody() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Body)
}

// WebStatus is the JSON body of a successful web response.
type WebStatus struct {
	Status       string `json:"status"`
	ActivationID string `json:"activationId,omitempty"`
}

// WebError is the JSON body of a failed web response.
type WebError struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	ActivationID string `json:"activationId,omitempty"`
}

// WebShaper shapes results for the HTTP trigger.
type WebShaper struct{}

func (WebShaper) Success(activationID string) WebResponse {
	return JSONResponse(http.StatusOK, WebStatus{Status: StatusSuccess, ActivationID: activationID})
}

func (WebShaper) Failure(activationID string, f *domain.Failure) WebResponse {
	return JSONResponse(http.StatusBadRequest, WebError{Error: f.Message, Message: f.Detail, ActivationID: activationID})
}

// HealthResponse is the fixed response to a GET on the web action.
func HealthResponse() WebResponse {
	return JSONResponse(http.StatusOK, StatusSuccess)
}

// MethodNotAllowed answers methods other than GET and POST.
func MethodNotAllowed(method string) WebResponse {
	resp := ErrorResponse(http.StatusMethodNotAllowed, "method "+method+" is not allowed", "")
	resp.Headers["Allow"] = "GET, POST"
	return resp
}

// ErrorResponse builds a failed web response; message is omitted when empty.
func ErrorResponse(status int, errMsg, message string) WebResponse {
	return JSONResponse(status, WebError{Error: errMsg, Message: message})
}

// JSONResponse encodes v as a base64 JSON body.
func JSONResponse(status int, v any) WebResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return WebResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       base64.StdEncoding.EncodeToString(body),
	}
}
