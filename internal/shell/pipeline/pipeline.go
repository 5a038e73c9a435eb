// Package pipeline runs one deployment end to end: resolve the repository, locate
// the manifest, run the deploy tool, interpret its output and clean up.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/manifest"
	"github.com/artpar/deployer/internal/core/outcome"
	"github.com/artpar/deployer/internal/shell/deploytool"
	"github.com/artpar/deployer/internal/shell/scratch"
)

// Resolver resolves a request to a repository root.
type Resolver interface {
	Resolve(ctx context.Context, req domain.DeployRequest) (domain.ResolvedRepository, error)
}

// Runner runs the deploy tool against a manifest.
type Runner interface {
	Run(ctx context.Context, loc domain.ManifestLocation, req domain.DeployRequest) (domain.ExecutionOutcome, error)
}

// Config configures a pipeline.
type Config struct {
	StderrPolicy outcome.StderrPolicy
}

// Pipeline runs deployments. It holds no per-invocation state and is safe for
// concurrent use.
type Pipeline struct {
	resolver Resolver
	runner   Runner
	cleaner  *scratch.Cleaner
	config   Config
	logger   *slog.Logger

	fileExists manifest.ExistsFunc
}

// New creates a pipeline.
func New(resolver Resolver, runner Runner, cleaner *scratch.Cleaner, config Config, logger *slog.Logger) *Pipeline {
	if config.StderrPolicy == "" {
		config.StderrPolicy = outcome.StderrFail
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cleaner == nil {
		cleaner = scratch.NewCleaner(logger)
	}
	return &Pipeline{
		resolver:   resolver,
		runner:     runner,
		cleaner:    cleaner,
		config:     config,
		logger:     logger.With("component", "pipeline"),
		fileExists: fileExists,
	}
}

// =============================================================================
// Activation Context
// =============================================================================

type activationKey struct{}

// WithActivationID tags ctx with the activation the pipeline runs for, for logging.
func WithActivationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, activationKey{}, id)
}

// ActivationID returns the activation id stored by WithActivationID.
func ActivationID(ctx context.Context) string {
	id, _ := ctx.Value(activationKey{}).(string)
	return id
}

// =============================================================================
// Run
// =============================================================================

// run tracks the stage of one invocation.
type run struct {
	stage  domain.Stage
	logger *slog.Logger
}

func (r *run) advance(to domain.Stage) {
	if err := domain.ValidateStageTransition(r.stage, to); err != nil {
		r.logger.Error("invalid stage transition", "from", r.stage, "to", to, "error", err)
	}
	r.logger.Debug("stage", "from", r.stage, "to", to)
	r.stage = to
}

// Run deploys req and returns its terminal result. A temporary checkout is
// removed before Run returns on every path. The error is non-nil only when ctx
// ended during the run; the result then carries a cancelled failure.
func (p *Pipeline) Run(ctx context.Context, req domain.DeployRequest) (domain.DeployResult, error) {
	r := &run{
		stage: domain.StageResolving,
		logger: p.logger.With(
			"activation_id", ActivationID(ctx),
			"source_url", req.SourceURL(),
			"manifest_path", req.ManifestSubPath(),
		),
	}
	start := time.Now()
	r.logger.Info("deployment started")

	result := p.execute(ctx, r, req)

	r.advance(domain.StageDone)
	if result.Succeeded() {
		r.logger.Info("deployment succeeded", "duration", time.Since(start))
	} else {
		f := result.Failure()
		r.logger.Warn("deployment failed", "duration", time.Since(start), "reason", f.Reason, "error", f.Message, "detail", f.Detail)
	}

	if f := result.Failure(); f != nil && f.Reason == domain.ReasonCancelled {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		return result, f
	}
	return result, nil
}

// execute walks the stages up to and including cleaning.
func (p *Pipeline) execute(ctx context.Context, r *run, req domain.DeployRequest) domain.DeployResult {
	resolved, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		r.advance(domain.StageCleaning)
		return domain.Fail(asFailure(err, domain.ReasonCloneFailed, "failed to resolve the repository"))
	}
	r.logger.Info("repository resolved", "root", resolved.RootPath, "temporary", resolved.IsTemporary)

	lease := p.cleaner.Lease(resolved)
	defer lease.Release()

	r.advance(domain.StageLocating)
	loc, err := manifest.Locate(resolved.RootPath, req.ManifestSubPath(), p.fileExists)
	if err != nil {
		r.advance(domain.StageCleaning)
		lease.Release()
		return domain.Fail(asFailure(err, domain.ReasonManifestNotFound, "Error loading manifest file. Does a manifest file exist?"))
	}
	r.logger.Debug("manifest located", "path", loc.AbsolutePath)

	r.advance(domain.StageExecuting)
	if err := ctx.Err(); err != nil {
		r.advance(domain.StageCleaning)
		lease.Release()
		return domain.Fail(cancelled(err))
	}
	out, err := p.runner.Run(ctx, loc, req)
	if err != nil {
		r.advance(domain.StageCleaning)
		lease.Release()
		return domain.Fail(runFailure(err))
	}

	r.advance(domain.StageInterpreting)
	if outcome.IsStructured(out.RawStdout) {
		r.logger.Debug("deploy tool produced structured output")
	}
	result := outcome.Interpret(out, p.config.StderrPolicy)

	r.advance(domain.StageCleaning)
	lease.Release()
	return result
}

// =============================================================================
// Failure Mapping
// =============================================================================

func runFailure(err error) *domain.Failure {
	switch {
	case errors.Is(err, deploytool.ErrCancelled):
		return cancelled(err)
	case errors.Is(err, deploytool.ErrSpawnFailed):
		return domain.NewFailure(domain.ReasonSpawnFailed, "could not start the deploy tool").
			WithDetail(err.Error()).
			Wrap(err)
	default:
		return asFailure(err, domain.ReasonSpawnFailed, "could not start the deploy tool")
	}
}

func cancelled(err error) *domain.Failure {
	return domain.NewFailure(domain.ReasonCancelled, "deployment was cancelled").Wrap(err)
}

// asFailure keeps a domain failure as is and wraps anything else under fallback.
func asFailure(err error, fallback domain.Reason, message string) *domain.Failure {
	if f, ok := domain.AsFailure(err); ok {
		return f
	}
	return domain.NewFailure(fallback, message).WithDetail(err.Error()).Wrap(err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
