package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Failure Reasons
// =============================================================================

// Reason classifies why a deployment failed. All reasons are terminal.
type Reason string

const (
	ReasonMissingRequiredInput Reason = "missing-required-input"
	ReasonCloneFailed          Reason = "clone-failed"
	ReasonManifestNotFound     Reason = "manifest-not-found"
	ReasonSpawnFailed          Reason = "spawn-failed"
	ReasonToolExitError        Reason = "tool-exit-error"
	ReasonToolReportedError    Reason = "tool-reported-error"
	ReasonToolStderrOutput     Reason = "tool-stderr-output"
	ReasonCancelled            Reason = "cancelled"
	ReasonInternal             Reason = "internal-error"
)

// Reasons lists every failure reason in pipeline order.
var Reasons = []Reason{
	ReasonMissingRequiredInput,
	ReasonCloneFailed,
	ReasonManifestNotFound,
	ReasonSpawnFailed,
	ReasonToolExitError,
	ReasonToolReportedError,
	ReasonToolStderrOutput,
	ReasonCancelled,
	ReasonInternal,
}

// =============================================================================
// Failure
// =============================================================================

// Failure is a typed deployment failure. It carries a human-readable message naming
// the likely cause, an optional detail and, for filesystem failures, the path tried.
type Failure struct {
	Reason  Reason
	Message string
	Detail  string
	Path    string
	Err     error
}

// NewFailure creates a Failure with the given reason and message.
func NewFailure(reason Reason, message string) *Failure {
	return &Failure{Reason: reason, Message: message}
}

// WithDetail returns a copy of f carrying detail.
func (f *Failure) WithDetail(detail string) *Failure {
	c := *f
	c.Detail = detail
	return &c
}

// WithPath returns a copy of f carrying the path that was tried.
func (f *Failure) WithPath(path string) *Failure {
	c := *f
	c.Path = path
	return &c
}

// Wrap returns a copy of f wrapping the underlying cause.
func (f *Failure) Wrap(err error) *Failure {
	c := *f
	c.Err = err
	return &c
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Reason, f.Message)
	if f.Detail != "" {
		msg += " (" + f.Detail + ")"
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another *Failure by reason, so errors.Is(err, &Failure{Reason: r}) works.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Reason == f.Reason
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ReasonOf returns the failure reason carried by err, or "" when err is not a Failure.
func ReasonOf(err error) Reason {
	if f, ok := AsFailure(err); ok {
		return f.Reason
	}
	return ""
}

// =============================================================================
// Deploy Result
// =============================================================================

// DeployResult is the terminal value of a pipeline run: either success or a Failure.
// The zero value is a success.
type DeployResult struct {
	failure *Failure
}

// Success returns a successful result.
func Success() DeployResult {
	return DeployResult{}
}

// Fail returns a failed result. A nil failure yields a success.
func Fail(f *Failure) DeployResult {
	return DeployResult{failure: f}
}

// Succeeded reports whether the deployment succeeded.
func (r DeployResult) Succeeded() bool {
	return r.failure == nil
}

// Failure returns the failure, or nil on success.
func (r DeployResult) Failure() *Failure {
	return r.failure
}

// Kind returns "success" or the failure reason.
func (r DeployResult) Kind() string {
	if r.failure == nil {
		return "success"
	}
	return string(r.failure.Reason)
}
