package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubCloner struct {
	calls int
	err   error
	// partial writes a file into dest before failing, like an interrupted clone
	partial bool
}

func (c *stubCloner) Clone(_ context.Context, _, dest string, _ int) error {
	c.calls++
	if c.partial || c.err == nil {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, "manifest.yaml"), []byte("packages: {}\n"), 0o644); err != nil {
			return err
		}
	}
	return c.err
}

func newRequest(t *testing.T, url string) domain.DeployRequest {
	t.Helper()
	req, err := domain.NewDeployRequest(domain.DeployRequestParams{SourceURL: url})
	require.NoError(t, err)
	return req
}

func entries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	return list
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_UsesTemplateWithoutCloning(t *testing.T) {
	templates := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(templates, "acme", "hello"), 0o755))

	cloner := &stubCloner{}
	r := NewResolver(ResolverConfig{
		TemplateRoots: []source.TemplateRoot{{Dir: templates, Layout: source.LayoutOrgRepo}},
		ScratchRoot:   t.TempDir(),
	}, cloner, nil, nil)

	resolved, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)

	assert.Equal(t, 0, cloner.calls)
	assert.False(t, resolved.IsTemporary)
	assert.Equal(t, filepath.Join(templates, "acme", "hello"), resolved.RootPath)
}

func TestResolve_RepoLayoutTemplate(t *testing.T) {
	blueprints := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(blueprints, "hello"), 0o755))

	cloner := &stubCloner{}
	r := NewResolver(ResolverConfig{
		TemplateRoots: []source.TemplateRoot{
			{Dir: filepath.Join(t.TempDir(), "missing"), Layout: source.LayoutOrgRepo},
			{Dir: blueprints, Layout: source.LayoutRepo},
		},
		ScratchRoot: t.TempDir(),
	}, cloner, nil, nil)

	resolved, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, cloner.calls)
	assert.Equal(t, filepath.Join(blueprints, "hello"), resolved.RootPath)
}

func TestResolve_ClonesIntoScratch(t *testing.T) {
	scratch := t.TempDir()
	cloner := &stubCloner{}
	r := NewResolver(ResolverConfig{ScratchRoot: scratch}, cloner, nil, nil)

	resolved, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)

	assert.Equal(t, 1, cloner.calls)
	assert.True(t, resolved.IsTemporary)
	assert.Equal(t, scratch, filepath.Dir(resolved.ScratchDir))
	assert.Equal(t, filepath.Join(resolved.ScratchDir, "acme", "hello"), resolved.RootPath)
	assert.FileExists(t, filepath.Join(resolved.RootPath, "manifest.yaml"))
}

func TestResolve_ConcurrentClonesGetDistinctScratchDirs(t *testing.T) {
	r := NewResolver(ResolverConfig{ScratchRoot: t.TempDir()}, &stubCloner{}, nil, nil)

	first, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ScratchDir, second.ScratchDir)
}

func TestResolve_CloneFailureRemovesPartialScratch(t *testing.T) {
	scratch := t.TempDir()
	cloner := &stubCloner{err: errors.New("repository not found"), partial: true}
	r := NewResolver(ResolverConfig{ScratchRoot: scratch}, cloner, nil, nil)

	_, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/missing"))
	require.Error(t, err)

	f, ok := domain.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonCloneFailed, f.Reason)
	assert.Equal(t, CloneFailedMessage, f.Message)
	assert.Empty(t, entries(t, scratch))
}

func TestResolve_MalformedURLFallsThroughToClone(t *testing.T) {
	templates := t.TempDir()
	cloner := &stubCloner{err: errors.New("invalid url")}
	r := NewResolver(ResolverConfig{
		TemplateRoots: []source.TemplateRoot{{Dir: templates, Layout: source.LayoutOrgRepo}},
		ScratchRoot:   t.TempDir(),
	}, cloner, nil, nil)

	_, err := r.Resolve(context.Background(), newRequest(t, "not-a-url"))

	assert.Equal(t, 1, cloner.calls)
	assert.Equal(t, domain.ReasonCloneFailed, domain.ReasonOf(err))
}

func TestResolve_CancelledClone(t *testing.T) {
	scratch := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(ResolverConfig{ScratchRoot: scratch}, &stubCloner{err: context.Canceled}, nil, nil)
	_, err := r.Resolve(ctx, newRequest(t, "https://github.com/acme/hello"))

	assert.Equal(t, domain.ReasonCancelled, domain.ReasonOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, entries(t, scratch))
}

func TestResolve_NeverWritesIntoTemplateRoots(t *testing.T) {
	templates := t.TempDir()
	r := NewResolver(ResolverConfig{
		TemplateRoots: []source.TemplateRoot{{Dir: templates, Layout: source.LayoutOrgRepo}},
		ScratchRoot:   t.TempDir(),
	}, &stubCloner{}, nil, nil)

	_, err := r.Resolve(context.Background(), newRequest(t, "https://github.com/acme/hello"))
	require.NoError(t, err)
	assert.Empty(t, entries(t, templates))
}

// =============================================================================
// GitCloner Tests
// =============================================================================

func TestGitCloner_MissingRepository(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "checkout")
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	err := NewGitCloner(nil).Clone(context.Background(), missing, dest, 1)
	assert.Error(t, err)
}
