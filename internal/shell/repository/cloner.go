package repository

import (
	"context"
	"log/slog"

	"github.com/go-git/go-git/v5"
)

// Cloner fetches a remote repository into dest.
type Cloner interface {
	Clone(ctx context.Context, url, dest string, depth int) error
}

// GitCloner clones with go-git, without a git binary on the host.
type GitCloner struct {
	logger *slog.Logger
}

// NewGitCloner creates a go-git backed cloner.
func NewGitCloner(logger *slog.Logger) *GitCloner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitCloner{logger: logger.With("component", "git_cloner")}
}

// Clone performs a single-branch clone limited to depth commits when depth > 0,
// and a full clone otherwise. Context cancellation aborts the transfer.
func (c *GitCloner) Clone(ctx context.Context, url, dest string, depth int) error {
	if depth < 0 {
		depth = 0
	}
	c.logger.Debug("cloning repository", "url", url, "dest", dest, "depth", depth)

	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:          url,
		Depth:        depth,
		SingleBranch: depth > 0,
		Tags:         git.NoTags,
	})
	return err
}
