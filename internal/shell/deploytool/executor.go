// Package deploytool runs the external manifest deploy tool as a subprocess.
package deploytool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/artpar/deployer/internal/core/command"
	"github.com/artpar/deployer/internal/core/domain"
)

// DefaultBinary is the deploy tool looked up on PATH when none is configured.
const DefaultBinary = "wskdeploy"

// Config configures the executor.
type Config struct {
	Binary       string
	ConfirmInput string        // written to stdin; defaults to command.ConfirmInput
	WaitDelay    time.Duration // grace period for output pipes after the process is killed
}

// Executor runs the deploy tool against a located manifest.
type Executor struct {
	config Config
	logger *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.ConfirmInput == "" {
		config.ConfirmInput = command.ConfirmInput
	}
	if config.WaitDelay == 0 {
		config.WaitDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config: config,
		logger: logger.With("component", "deploy_tool"),
	}
}

// Run starts the deploy tool in the manifest's directory with only the request's
// environment overlay, feeds the confirmation input and waits for it to exit.
//
// A non-zero exit is not an error: it is reported in the outcome. Errors are
// *ToolError wrapping ErrSpawnFailed or ErrCancelled.
func (e *Executor) Run(ctx context.Context, loc domain.ManifestLocation, req domain.DeployRequest) (domain.ExecutionOutcome, error) {
	args := command.Args(loc, req.CredentialKey(), req.CredentialHost())

	cmd := exec.CommandContext(ctx, e.config.Binary, args...)
	cmd.Dir = loc.Dir
	cmd.Env = command.Env(req.ExtraEnv())
	cmd.Stdin = strings.NewReader(e.config.ConfirmInput)
	cmd.WaitDelay = e.config.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Info("running deploy tool",
		"binary", e.config.Binary,
		"args", command.Redact(args),
		"dir", loc.Dir,
		"env_keys", len(cmd.Env),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.ExecutionOutcome{}, NewToolError("Run", e.config.Binary,
			fmt.Sprintf("failed to start: %v", err), errors.Join(ErrSpawnFailed, err))
	}

	waitErr := cmd.Wait()
	outcome := domain.ExecutionOutcome{
		ExitSucceeded: waitErr == nil,
		ExitCode:      cmd.ProcessState.ExitCode(),
		RawStdout:     stdout.String(),
		RawStderr:     stderr.String(),
		Duration:      time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, NewToolError("Run", e.config.Binary, "cancelled while running", errors.Join(ErrCancelled, ctxErr))
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		e.logger.Warn("deploy tool wait failed", "error", waitErr)
	}

	e.logger.Info("deploy tool finished",
		"exit_code", outcome.ExitCode,
		"duration", outcome.Duration,
		"stdout_bytes", len(outcome.RawStdout),
		"stderr_bytes", len(outcome.RawStderr),
	)
	return outcome, nil
}
