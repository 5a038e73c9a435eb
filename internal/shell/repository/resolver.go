// Package repository turns a deploy request into a local repository root, either
// a bundled template or a fresh shallow clone in an invocation-owned scratch directory.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/source"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/google/uuid"
)

// CloneFailedMessage is reported when a repository cannot be fetched.
const CloneFailedMessage = "There was a problem cloning the repository. Does it exist? Does the URL begin with http(s)://?"

// DefaultCloneDepth is a shallow clone of the tip commit.
const DefaultCloneDepth = 1

// ResolverConfig configures where templates are looked up and clones are written.
type ResolverConfig struct {
	TemplateRoots []source.TemplateRoot
	ScratchRoot   string
	CloneDepth    int
}

// Resolver resolves deploy requests to repository roots.
type Resolver struct {
	config  ResolverConfig
	cloner  Cloner
	metrics metrics.Metrics
	logger  *slog.Logger

	isDir func(string) bool
}

// NewResolver creates a resolver. A nil metrics sink records nothing.
func NewResolver(config ResolverConfig, cloner Cloner, m metrics.Metrics, logger *slog.Logger) *Resolver {
	if config.ScratchRoot == "" {
		config.ScratchRoot = filepath.Join(os.TempDir(), "deployer")
	}
	if config.CloneDepth == 0 {
		config.CloneDepth = DefaultCloneDepth
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		config:  config,
		cloner:  cloner,
		metrics: m,
		logger:  logger.With("component", "repository_resolver"),
		isDir:   isDir,
	}
}

// Resolve returns the first existing bundled template for the request's
// repository, or clones it into a new scratch directory. A failed clone
// leaves nothing behind on disk.
func (r *Resolver) Resolve(ctx context.Context, req domain.DeployRequest) (domain.ResolvedRepository, error) {
	coords := source.Parse(req.SourceURL())
	logger := r.logger.With("source_url", req.SourceURL(), "org", coords.Org, "repo", coords.Repo)

	for _, candidate := range source.TemplateCandidates(coords, r.config.TemplateRoots) {
		if r.isDir(candidate) {
			logger.Info("using bundled template", "path", candidate)
			r.metrics.IncResolution(metrics.ResolutionTemplate)
			return domain.ResolvedRepository{RootPath: candidate}, nil
		}
	}

	scratchDir := source.ScratchDir(r.config.ScratchRoot, uuid.NewString())
	dest := source.CheckoutPath(scratchDir, coords)

	fail := func(err error) (domain.ResolvedRepository, error) {
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			logger.Warn("failed to remove partial clone", "path", scratchDir, "error", rmErr)
		}
		r.metrics.IncResolution(metrics.ResolutionCloneFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ResolvedRepository{}, domain.NewFailure(domain.ReasonCancelled, "deployment was cancelled while cloning").Wrap(ctxErr)
		}
		return domain.ResolvedRepository{}, domain.NewFailure(domain.ReasonCloneFailed, CloneFailedMessage).
			WithDetail(err.Error()).
			Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(err)
	}

	logger.Info("cloning repository", "dest", dest, "depth", r.config.CloneDepth)
	if err := r.cloner.Clone(ctx, req.SourceURL(), dest, r.config.CloneDepth); err != nil {
		logger.Warn("clone failed", "error", err)
		return fail(err)
	}
	if !r.isDir(dest) {
		return fail(errors.New("clone produced no checkout"))
	}

	r.metrics.IncResolution(metrics.ResolutionClone)
	return domain.ResolvedRepository{RootPath: dest, IsTemporary: true, ScratchDir: scratchDir}, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
