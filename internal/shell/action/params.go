// Package action adapts the two deployment triggers, a queued job and an HTTP web
// action, onto the shared pipeline and shapes each one's response.
package action

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/artpar/deployer/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Params are the invocation parameters shared by both triggers.
type Params struct {
	GitURL       string            `json:"gitUrl" yaml:"gitUrl"`
	ManifestPath string            `json:"manifestPath,omitempty" yaml:"manifestPath,omitempty"`
	EnvData      map[string]string `json:"envData,omitempty" yaml:"envData,omitempty"`
	APIHost      string            `json:"wskApiHost,omitempty" yaml:"wskApiHost,omitempty"`
	Auth         string            `json:"wskAuth,omitempty" yaml:"wskAuth,omitempty"`
}

// Platform holds the platform-provided defaults used when params omit them.
type Platform struct {
	APIHost      string
	APIKey       string
	ActivationID string
}

// Request builds a validated deploy request, taking the API host and key from
// platform when params leave them empty.
func (p Params) Request(platform Platform) (domain.DeployRequest, error) {
	host := p.APIHost
	if host == "" {
		host = platform.APIHost
	}
	key := p.Auth
	if key == "" {
		key = platform.APIKey
	}

	return domain.NewDeployRequest(domain.DeployRequestParams{
		SourceURL:       p.GitURL,
		ManifestSubPath: p.ManifestPath,
		CredentialHost:  host,
		CredentialKey:   key,
		ExtraEnv:        p.EnvData,
	})
}

// DecodeParams reads params from YAML or JSON.
func DecodeParams(r io.Reader) (Params, error) {
	var p Params
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Params{}, nil
		}
		return Params{}, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, nil
}

// LoadParams reads params from a YAML or JSON file.
func LoadParams(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to open params file: %w", err)
	}
	defer f.Close()
	return DecodeParams(f)
}
