package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrActivationIDRequired = errors.New("activation id is required")
	ErrSourceURLRequired    = errors.New("source url is required")
)

// =============================================================================
// Activation Status
// =============================================================================

// ActivationStatus is the lifecycle state of a queued deployment job.
type ActivationStatus string

const (
	ActivationPending   ActivationStatus = "pending"
	ActivationRunning   ActivationStatus = "running"
	ActivationSucceeded ActivationStatus = "succeeded"
	ActivationFailed    ActivationStatus = "failed"
)

// =============================================================================
// Activation
// =============================================================================

// Activation is one queued invocation of the deploy job action.
type Activation struct {
	ID              string           `json:"id"`
	SourceURL       string           `json:"source_url"`
	ManifestSubPath string           `json:"manifest_path,omitempty"`
	CredentialHost  string           `json:"api_host,omitempty"`
	SealedAuth      string           `json:"-"` // credential key sealed with crypto.SealString
	SealedEnv       string           `json:"-"` // JSON env overlay sealed with crypto.SealString
	Status          ActivationStatus `json:"status"`
	FailureReason   Reason           `json:"failure_reason,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ErrorDetail     string           `json:"error_detail,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// NewActivationID returns a fresh activation identifier.
func NewActivationID() string {
	return uuid.New().String()
}

// NewActivation creates a pending activation. An empty id is replaced with a fresh one.
func NewActivation(id, sourceURL string) (*Activation, error) {
	if sourceURL == "" {
		return nil, ErrSourceURLRequired
	}
	if id == "" {
		id = NewActivationID()
	}

	now := time.Now().UTC()
	return &Activation{
		ID:        id,
		SourceURL: sourceURL,
		Status:    ActivationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition attempts to move the activation to a new status.
func (a *Activation) Transition(to ActivationStatus) error {
	if err := ValidateActivationTransition(a.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	a.Status = to
	a.UpdatedAt = now

	switch to {
	case ActivationRunning:
		a.StartedAt = &now
	case ActivationSucceeded, ActivationFailed:
		a.FinishedAt = &now
	}

	return nil
}

// Complete records the terminal result of the activation's pipeline run.
func (a *Activation) Complete(result DeployResult) error {
	if result.Succeeded() {
		return a.Transition(ActivationSucceeded)
	}

	if err := a.Transition(ActivationFailed); err != nil {
		return err
	}
	f := result.Failure()
	a.FailureReason = f.Reason
	a.ErrorMessage = f.Message
	a.ErrorDetail = f.Detail
	return nil
}

// Result rebuilds the terminal DeployResult of a finished activation.
func (a *Activation) Result() (DeployResult, bool) {
	switch a.Status {
	case ActivationSucceeded:
		return Success(), true
	case ActivationFailed:
		return Fail(&Failure{
			Reason:  a.FailureReason,
			Message: a.ErrorMessage,
			Detail:  a.ErrorDetail,
		}), true
	default:
		return DeployResult{}, false
	}
}

// IsFinished reports whether the activation reached a terminal status.
func (a *Activation) IsFinished() bool {
	return a.Status == ActivationSucceeded || a.Status == ActivationFailed
}

// =============================================================================
// State Machine
// =============================================================================

var validActivationTransitions = map[ActivationStatus][]ActivationStatus{
	ActivationPending:   {ActivationRunning, ActivationFailed},
	ActivationRunning:   {ActivationSucceeded, ActivationFailed},
	ActivationSucceeded: {}, // Terminal state
	ActivationFailed:    {}, // Terminal state
}

// ValidateActivationTransition checks if an activation status transition is valid.
func ValidateActivationTransition(from, to ActivationStatus) error {
	allowed, exists := validActivationTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
