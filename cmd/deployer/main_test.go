package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/deployer/internal/core/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, nil, &stdout, &stderr)

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout.String(), "deployer dev")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"deploy"}, nil, &stdout, &stderr)

	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr.String(), `unknown command "deploy"`)
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"invoke", "--nope"}, nil, &stdout, &stderr)
	assert.Equal(t, ExitConfigError, code)
}

func TestRun_InvokeWithoutURLPrintsFailureEnvelope(t *testing.T) {
	clearEnv(t)
	t.Setenv("__OW_ACTIVATION_ID", "act-cli")

	var stdout, stderr bytes.Buffer
	code := run([]string{"invoke"}, strings.NewReader(`{"manifestPath": "."}`), &stdout, &stderr)

	assert.Equal(t, ExitDeployFailed, code)

	var env envelope.JobEnvelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "act-cli", env.ActivationID)
	assert.NotEmpty(t, env.Error)
}

func TestRun_InvokeFromTemplate(t *testing.T) {
	clearEnv(t)

	// Bundled template with a manifest and a fake deploy tool that succeeds.
	root := t.TempDir()
	repo := filepath.Join(root, "templates", "acme", "hello")
	require.NoError(t, os.MkdirAll(repo, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "manifest.yaml"), []byte("packages: {}\n"), 0644))

	tool := filepath.Join(root, "wskdeploy")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho 'Deployment completed successfully.'\n"), 0755))

	configPath := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
deploy_tool:
  binary: `+tool+`
repository:
  scratch_dir: `+filepath.Join(root, "scratch")+`
  template_dirs:
    - dir: `+filepath.Join(root, "templates")+`
      layout: org-repo
`), 0644))

	paramsPath := filepath.Join(root, "params.yaml")
	require.NoError(t, os.WriteFile(paramsPath, []byte("gitUrl: https://github.com/acme/hello\nwskAuth: k\nwskApiHost: h\n"), 0644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"invoke", "--config", configPath, "--params", paramsPath}, nil, &stdout, &stderr)

	require.Equal(t, ExitSuccess, code, stdout.String())
	var env envelope.JobEnvelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.True(t, env.Success)
	require.NotNil(t, env.Status)
	assert.Equal(t, "success", env.Status.Status)
	assert.NoDirExists(t, filepath.Join(root, "scratch"))
}

func TestRun_InvokeMissingParamsFile(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"invoke", "-p", filepath.Join(t.TempDir(), "absent.json")}, nil, &stdout, &stderr)

	assert.Equal(t, ExitConfigError, code)
	assert.Empty(t, stdout.String())
}

func TestServerError(t *testing.T) {
	err := &ServerError{Op: "NewServer", Err: assert.AnError, ExitCode: ExitDatabaseError}

	assert.Equal(t, "NewServer: "+assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
}
