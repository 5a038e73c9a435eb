package deploytool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeTool writes an executable shell script and returns its path.
// Scripts only use shell builtins since the tool runs with an empty environment.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-deploy")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func location(t *testing.T) domain.ManifestLocation {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("packages: {}\n"), 0o644))
	return domain.ManifestLocation{AbsolutePath: path, FileName: "manifest.yaml", Dir: dir}
}

func request(t *testing.T, env map[string]string) domain.DeployRequest {
	t.Helper()
	req, err := domain.NewDeployRequest(domain.DeployRequestParams{
		SourceURL:      "https://github.com/acme/hello",
		CredentialHost: "https://api.example.com",
		CredentialKey:  "secret-key",
		ExtraEnv:       env,
	})
	require.NoError(t, err)
	return req
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_PassesArgsDirAndStdin(t *testing.T) {
	tool := fakeTool(t, `read answer
echo "args=$*"
echo "answer=$answer"
echo "dir=$(pwd)"`)
	loc := location(t)

	outcome, err := NewExecutor(Config{Binary: tool}, nil).Run(context.Background(), loc, request(t, nil))
	require.NoError(t, err)

	assert.True(t, outcome.ExitSucceeded)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Contains(t, outcome.RawStdout, "args=--verbose --manifest manifest.yaml --auth secret-key --apihost https://api.example.com")
	assert.Contains(t, outcome.RawStdout, "answer=y")
	assert.Empty(t, outcome.RawStderr)

	resolvedDir, err := filepath.EvalSymlinks(loc.Dir)
	require.NoError(t, err)
	assert.Contains(t, outcome.RawStdout, "dir="+resolvedDir)
}

func TestRun_EnvironmentIsOverlayOnly(t *testing.T) {
	t.Setenv("DEPLOYER_LEAK_CHECK", "leaked")
	tool := fakeTool(t, `echo "custom=$CUSTOM_VAR"
echo "leak=$DEPLOYER_LEAK_CHECK"`)

	outcome, err := NewExecutor(Config{Binary: tool}, nil).Run(context.Background(), location(t),
		request(t, map[string]string{"CUSTOM_VAR": "hello"}))
	require.NoError(t, err)

	assert.Contains(t, outcome.RawStdout, "custom=hello")
	assert.Contains(t, outcome.RawStdout, "leak=\n")
}

func TestRun_NonZeroExitIsAnOutcome(t *testing.T) {
	tool := fakeTool(t, `echo "manifest invalid" >&2
exit 3`)

	outcome, err := NewExecutor(Config{Binary: tool}, nil).Run(context.Background(), location(t), request(t, nil))
	require.NoError(t, err)

	assert.False(t, outcome.ExitSucceeded)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Equal(t, "manifest invalid", strings.TrimSpace(outcome.RawStderr))
}

func TestRun_MissingBinaryIsSpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-tool")

	_, err := NewExecutor(Config{Binary: missing}, nil).Run(context.Background(), location(t), request(t, nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "Run", toolErr.Op)
	assert.Equal(t, missing, toolErr.Binary)
}

func TestRun_CancellationKillsTool(t *testing.T) {
	tool := fakeTool(t, `while :; do :; done`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExecutor(Config{Binary: tool, WaitDelay: time.Second}, nil).Run(ctx, location(t), request(t, nil))

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestToolError_Message(t *testing.T) {
	err := NewToolError("Run", "wskdeploy", "failed to start", ErrSpawnFailed)
	assert.Equal(t, "Run wskdeploy: failed to start", err.Error())
	assert.ErrorIs(t, err, ErrSpawnFailed)

	err = NewToolError("Run", "", "cancelled while running", ErrCancelled)
	assert.Equal(t, "Run: cancelled while running", err.Error())
}
