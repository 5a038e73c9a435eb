// Package domain contains the core deployment types, the pipeline stage machine
// and the failure taxonomy.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"maps"
	"strings"
	"time"
)

// DefaultManifestSubPath is used when a request does not name a manifest directory.
const DefaultManifestSubPath = "."

// =============================================================================
// Deploy Request
// =============================================================================

// DeployRequest describes one deployment of a manifest held in a source repository.
// It is immutable once built by NewDeployRequest.
type DeployRequest struct {
	sourceURL       string
	manifestSubPath string
	credentialHost  string
	credentialKey   string
	extraEnv        map[string]string
}

// DeployRequestParams are the raw, unvalidated request fields.
type DeployRequestParams struct {
	SourceURL       string
	ManifestSubPath string
	CredentialHost  string
	CredentialKey   string
	ExtraEnv        map[string]string
}

// NewDeployRequest validates params and builds a DeployRequest.
// A blank source URL fails with ReasonMissingRequiredInput.
func NewDeployRequest(p DeployRequestParams) (DeployRequest, error) {
	sourceURL := strings.TrimSpace(p.SourceURL)
	if sourceURL == "" {
		return DeployRequest{}, NewFailure(ReasonMissingRequiredInput, "Please enter the repository url in params")
	}

	subPath := strings.TrimSpace(p.ManifestSubPath)
	if subPath == "" {
		subPath = DefaultManifestSubPath
	}

	var env map[string]string
	if len(p.ExtraEnv) > 0 {
		env = maps.Clone(p.ExtraEnv)
	}

	return DeployRequest{
		sourceURL:       sourceURL,
		manifestSubPath: subPath,
		credentialHost:  p.CredentialHost,
		credentialKey:   p.CredentialKey,
		extraEnv:        env,
	}, nil
}

// SourceURL returns the repository URL to deploy from.
func (r DeployRequest) SourceURL() string { return r.sourceURL }

// ManifestSubPath returns the manifest directory relative to the repository root.
func (r DeployRequest) ManifestSubPath() string { return r.manifestSubPath }

// CredentialHost returns the API host handed to the deploy tool.
func (r DeployRequest) CredentialHost() string { return r.credentialHost }

// CredentialKey returns the API key handed to the deploy tool.
func (r DeployRequest) CredentialKey() string { return r.credentialKey }

// ExtraEnv returns a copy of the subprocess environment overlay (nil when none was given).
func (r DeployRequest) ExtraEnv() map[string]string {
	if r.extraEnv == nil {
		return nil
	}
	return maps.Clone(r.extraEnv)
}

// =============================================================================
// Pipeline Values
// =============================================================================

// ResolvedRepository is the repository root a pipeline invocation deploys from.
// When IsTemporary is set, ScratchDir is owned by the invocation and must be removed
// exactly once before the invocation finishes.
type ResolvedRepository struct {
	RootPath    string
	IsTemporary bool
	ScratchDir  string
}

// ManifestLocation is the manifest file chosen for a deployment.
type ManifestLocation struct {
	AbsolutePath string
	FileName     string
	Dir          string // working directory for the deploy tool
}

// ExecutionOutcome is the raw result of one deploy tool run.
type ExecutionOutcome struct {
	ExitSucceeded bool
	ExitCode      int
	RawStdout     string
	RawStderr     string
	Duration      time.Duration
}
