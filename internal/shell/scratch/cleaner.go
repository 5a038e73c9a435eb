// Package scratch removes the temporary checkouts a pipeline invocation owns.
package scratch

import (
	"log/slog"
	"os"
	"sync"

	"github.com/artpar/deployer/internal/core/domain"
)

// Cleaner deletes temporary repository resolutions.
type Cleaner struct {
	removeAll func(string) error
	logger    *slog.Logger
}

// NewCleaner creates a cleaner that removes scratch directories with os.RemoveAll.
func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		removeAll: os.RemoveAll,
		logger:    logger.With("component", "scratch_cleaner"),
	}
}

// Cleanup removes the scratch directory of a temporary resolution. Template
// resolutions are left untouched. Errors are logged, never returned.
func (c *Cleaner) Cleanup(resolved domain.ResolvedRepository) {
	if !resolved.IsTemporary || resolved.ScratchDir == "" {
		return
	}

	if err := c.removeAll(resolved.ScratchDir); err != nil {
		c.logger.Warn("failed to remove scratch directory", "path", resolved.ScratchDir, "error", err)
		return
	}
	c.logger.Debug("removed scratch directory", "path", resolved.ScratchDir)
}

// Lease ties one resolution to the cleaner so it is released exactly once,
// however many exit paths call Release.
type Lease struct {
	cleaner  *Cleaner
	resolved domain.ResolvedRepository
	once     sync.Once
}

// Lease returns a release handle for resolved.
func (c *Cleaner) Lease(resolved domain.ResolvedRepository) *Lease {
	return &Lease{cleaner: c, resolved: resolved}
}

// Release cleans up the leased resolution on the first call only.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cleaner.Cleanup(l.resolved)
	})
}
